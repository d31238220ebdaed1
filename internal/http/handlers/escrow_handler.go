package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/callback"
	"github.com/pw-escrow/backend/internal/http/dto"
	"github.com/pw-escrow/backend/internal/middleware"
	"github.com/pw-escrow/backend/internal/models"
	"github.com/pw-escrow/backend/internal/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EscrowHandler serves both the mini app and the bot front-end. The caller's
// principal id is set by whichever auth middleware guards the route.
type EscrowHandler struct {
	escrows *services.EscrowService
	tokens  *services.TokenService
	log     *zap.Logger
}

func NewEscrowHandler(escrows *services.EscrowService, tokens *services.TokenService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrows: escrows, tokens: tokens, log: log}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest(c, "amount must be a decimal number")
	}
	in := services.CreateEscrowInput{
		CreatorID:        middleware.GetPrincipalID(c),
		ChatID:           req.ChatID,
		BuyerID:          req.BuyerID,
		SellerID:         req.SellerID,
		DealTitle:        req.DealTitle,
		Description:      req.Description,
		Amount:           amount,
		DeliveryDeadline: req.DeliveryDeadline,
		RefundConditions: req.RefundConditions,
		DisputeAgreement: req.DisputeAgreement,
	}
	if req.FeeAmount != nil {
		fee, err := decimal.NewFromString(*req.FeeAmount)
		if err != nil {
			return badRequest(c, "fee_amount must be a decimal number")
		}
		in.FeeAmount = &fee
	}

	e, err := h.escrows.CreateEscrow(c.UserContext(), in)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: h.view(c, e)})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	e, err := h.escrows.GetEscrow(c.UserContext(), id, middleware.GetPrincipalID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.view(c, e)})
}

func (h *EscrowHandler) GetEscrowByCode(c *fiber.Ctx) error {
	code := strings.ToUpper(strings.TrimSpace(c.Params("code")))
	e, err := h.escrows.GetEscrowByCode(c.UserContext(), code, middleware.GetPrincipalID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.view(c, e)})
}

func (h *EscrowHandler) GetEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	history, err := h.escrows.History(c.UserContext(), id, middleware.GetPrincipalID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: history})
}

func (h *EscrowHandler) UpdateTerms(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	var req dto.UpdateTermsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}

	e, err := h.escrows.UpdateTerms(c.UserContext(), id, middleware.GetPrincipalID(c), models.TermsPatch{
		RefundConditions: req.RefundConditions,
		DisputeAgreement: req.DisputeAgreement,
		DeliveryDeadline: req.DeliveryDeadline,
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.view(c, e)})
}

// maxTokenTTLSeconds caps a requested token lifetime at one day.
const maxTokenTTLSeconds = 86400

// IssueToken mints a token for one action.
func (h *EscrowHandler) IssueToken(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	var req dto.IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.TTLSeconds < 0 || req.TTLSeconds > maxTokenTTLSeconds {
		return badRequest(c, "ttl_seconds must be between 0 and 86400")
	}

	ctx := c.UserContext()
	tok, err := h.tokens.Issue(ctx, id, models.Action(req.Action), middleware.GetPrincipalID(c), time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return respondError(c, h.log, err)
	}
	e, err := h.escrows.GetEscrow(ctx, id, middleware.GetPrincipalID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	offer, err := offerResponse(e, services.Offer{Action: tok.Action, Token: tok.Token, ExpiresAt: tok.ExpiresAt})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: offer})
}

// IssueOffers mints a token for every action the caller may take now; the
// bot renders one inline button per offer.
func (h *EscrowHandler) IssueOffers(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}

	ctx := c.UserContext()
	principal := middleware.GetPrincipalID(c)
	e, err := h.escrows.GetEscrow(ctx, id, principal)
	if err != nil {
		return respondError(c, h.log, err)
	}
	offers, err := h.tokens.IssueOffers(ctx, id, principal)
	if err != nil {
		return respondError(c, h.log, err)
	}

	out := make([]dto.OfferResponse, 0, len(offers))
	for _, o := range offers {
		resp, err := offerResponse(e, o)
		if err != nil {
			return respondError(c, h.log, err)
		}
		out = append(out, resp)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

func (h *EscrowHandler) Transition(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	token, err := uuid.Parse(req.Token)
	if err != nil {
		return badRequest(c, "invalid token")
	}

	return h.attempt(c, services.TransitionRequest{
		EscrowID:    id,
		Action:      models.Action(req.Action),
		PrincipalID: middleware.GetPrincipalID(c),
		TokenID:     token,
		Payload:     req.Payload,
		ChatID:      req.ChatID,
	})
}

// Callback fires the transition encoded in a pressed button's callback data.
func (h *EscrowHandler) Callback(c *fiber.Ctx) error {
	var req dto.CallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	data, err := callback.Decode(req.Data)
	if err != nil {
		return respondError(c, h.log, err)
	}
	id, err := h.escrows.IDForCode(c.UserContext(), data.EscrowCode)
	if err != nil {
		return respondError(c, h.log, err)
	}

	return h.attempt(c, services.TransitionRequest{
		EscrowID:    id,
		Action:      data.Action,
		PrincipalID: middleware.GetPrincipalID(c),
		TokenID:     data.Token,
		Payload:     req.Payload,
		ChatID:      req.ChatID,
	})
}

func (h *EscrowHandler) attempt(c *fiber.Ctx, req services.TransitionRequest) error {
	res, err := h.escrows.AttemptTransition(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: res})
}

// PaymentQR serves the UPI payment QR as a PNG.
func (h *EscrowHandler) PaymentQR(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "invalid escrow id")
	}
	png, e, err := h.escrows.PaymentArtifact(c.UserContext(), id, middleware.GetPrincipalID(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="`+e.Code+`.png"`)
	return c.Send(png)
}

func (h *EscrowHandler) view(c *fiber.Ctx, e *models.Escrow) dto.EscrowView {
	return dto.EscrowView{
		Escrow: e,
		Total:  e.Total().StringFixed(2),
		Roles:  h.escrows.Roles(e, middleware.GetPrincipalID(c)).String(),
	}
}

func offerResponse(e *models.Escrow, o services.Offer) (dto.OfferResponse, error) {
	data, err := callback.Encode(callback.Data{Action: o.Action, EscrowCode: e.Code, Token: o.Token})
	if err != nil {
		return dto.OfferResponse{}, err
	}
	return dto.OfferResponse{
		Action:       o.Action,
		Token:        o.Token.String(),
		CallbackData: data,
		ExpiresAt:    o.ExpiresAt,
	}, nil
}
