// Package callback encodes the data attached to inline buttons:
// ACTION|ESCROW_CODE|TOKEN, where TOKEN is the action token in compact form.
package callback

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/models"
)

// MaxLen is Telegram's limit for callback_data.
const MaxLen = 64

const sep = "|"

var ErrMalformed = errors.New("malformed callback data")

type Data struct {
	Action     models.Action
	EscrowCode string
	Token      uuid.UUID
}

func Encode(d Data) (string, error) {
	if !d.Action.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrMalformed, d.Action)
	}
	if d.EscrowCode == "" || strings.Contains(d.EscrowCode, sep) {
		return "", fmt.Errorf("%w: bad escrow code %q", ErrMalformed, d.EscrowCode)
	}
	s := string(d.Action) + sep + d.EscrowCode + sep + base64.RawURLEncoding.EncodeToString(d.Token[:])
	if len(s) > MaxLen {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformed, len(s), MaxLen)
	}
	return s, nil
}

// Decode parses callback data. The token may be compact base64url or the
// canonical UUID string.
func Decode(s string) (Data, error) {
	if len(s) > MaxLen {
		return Data{}, fmt.Errorf("%w: too long", ErrMalformed)
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return Data{}, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformed, len(parts))
	}
	action := models.Action(parts[0])
	if !action.Valid() {
		return Data{}, fmt.Errorf("%w: unknown action %q", ErrMalformed, parts[0])
	}
	if parts[1] == "" {
		return Data{}, fmt.Errorf("%w: empty escrow code", ErrMalformed)
	}
	token, err := parseToken(parts[2])
	if err != nil {
		return Data{}, err
	}
	return Data{Action: action, EscrowCode: parts[1], Token: token}, nil
}

func parseToken(s string) (uuid.UUID, error) {
	if len(s) == 36 {
		id, err := uuid.Parse(s)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return id, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, fmt.Errorf("%w: bad token", ErrMalformed)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return id, nil
}
