package callback

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pw-escrow/backend/internal/models"
)

func TestEncodeDecode(t *testing.T) {
	token := uuid.MustParse("6f1c2a7e-4b0d-4c1e-9a55-0d2f3b7c8e91")
	for _, action := range []models.Action{models.ActionAgreed, models.ActionReleaseConfirmed, models.ActionAgreementPreview} {
		t.Run(string(action), func(t *testing.T) {
			s, err := Encode(Data{Action: action, EscrowCode: "PW-100123", Token: token})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(s) > MaxLen {
				t.Fatalf("encoded length %d exceeds %d", len(s), MaxLen)
			}
			got, err := Decode(s)
			if err != nil {
				t.Fatalf("Decode(%q) error = %v", s, err)
			}
			if got.Action != action || got.EscrowCode != "PW-100123" || got.Token != token {
				t.Errorf("Decode() = %+v", got)
			}
		})
	}
}

func TestDecodeCanonicalToken(t *testing.T) {
	token := uuid.New()
	got, err := Decode("FUNDED|PW-1|" + token.String())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Token != token {
		t.Errorf("Token = %s, want %s", got.Token, token)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []string{
		"",
		"AGREED|PW-1",
		"AGREED|PW-1|abc|extra",
		"agree_buyer|PW-1|AAAAAAAAAAAAAAAAAAAAAA",
		"CREATED|PW-1|AAAAAAAAAAAAAAAAAAAAAA",
		"AGREED||AAAAAAAAAAAAAAAAAAAAAA",
		"AGREED|PW-1|not-a-token",
		"AGREED|PW-1|" + strings.Repeat("A", 60),
	}
	for _, s := range tests {
		if _, err := Decode(s); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%q) error = %v, want ErrMalformed", s, err)
		}
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	if _, err := Encode(Data{Action: "agree_buyer", EscrowCode: "PW-1"}); !errors.Is(err, ErrMalformed) {
		t.Errorf("unknown action: %v", err)
	}
	if _, err := Encode(Data{Action: models.ActionAgreed, EscrowCode: "PW|1"}); !errors.Is(err, ErrMalformed) {
		t.Errorf("separator in code: %v", err)
	}
	if _, err := Encode(Data{Action: models.ActionAgreed, EscrowCode: strings.Repeat("X", 40)}); !errors.Is(err, ErrMalformed) {
		t.Errorf("too long: %v", err)
	}
}
