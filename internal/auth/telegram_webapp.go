package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultInitDataTTL bounds the age of auth_date. initData is regenerated each
// time the mini app opens.
const DefaultInitDataTTL = 5 * time.Minute

// maxClockSkew tolerates an auth_date slightly ahead of our clock.
const maxClockSkew = time.Minute

var ErrInvalidInitData = errors.New("invalid telegram init data")

// WebAppUser is the "user" object Telegram signs into initData.
type WebAppUser struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// WebAppSession is verified initData.
type WebAppSession struct {
	User     WebAppUser
	AuthDate time.Time
	QueryID  string
	// StartParam carries the escrow code when the mini app is opened from a
	// deep link.
	StartParam string
}

// ValidateTelegramWebAppData verifies initData from a Telegram mini app at
// instant now and returns the signed user.
// https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func ValidateTelegramWebAppData(initData, botToken string, maxAge time.Duration, now time.Time) (*WebAppSession, error) {
	if maxAge <= 0 {
		maxAge = DefaultInitDataTTL
	}

	vals, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	receivedHash := vals.Get("hash")
	if receivedHash == "" {
		return nil, fmt.Errorf("%w: hash is missing", ErrInvalidInitData)
	}
	if !hmac.Equal([]byte(signInitData(vals, botToken)), []byte(receivedHash)) {
		return nil, fmt.Errorf("%w: data integrity check failed", ErrInvalidInitData)
	}

	authDateStr := vals.Get("auth_date")
	if authDateStr == "" {
		return nil, fmt.Errorf("%w: auth_date is missing", ErrInvalidInitData)
	}
	authDateUnix, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: auth_date is not a unix timestamp", ErrInvalidInitData)
	}
	authDate := time.Unix(authDateUnix, 0).UTC()
	if age := now.Sub(authDate); age > maxAge {
		return nil, fmt.Errorf("%w: expired, auth_date is %s old (max %s)", ErrInvalidInitData, age.Round(time.Second), maxAge)
	}
	if authDate.After(now.Add(maxClockSkew)) {
		return nil, fmt.Errorf("%w: auth_date is in the future", ErrInvalidInitData)
	}

	var user WebAppUser
	if err := json.Unmarshal([]byte(vals.Get("user")), &user); err != nil {
		return nil, fmt.Errorf("%w: user: %v", ErrInvalidInitData, err)
	}
	if user.ID <= 0 {
		return nil, fmt.Errorf("%w: user id is missing", ErrInvalidInitData)
	}

	return &WebAppSession{
		User:       user,
		AuthDate:   authDate,
		QueryID:    vals.Get("query_id"),
		StartParam: vals.Get("start_param"),
	}, nil
}

// signInitData computes the hex hash Telegram attaches to initData: the
// sorted key=value lines, excluding hash, signed with
// HMAC-SHA256(HMAC-SHA256("WebAppData", botToken), lines).
func signInitData(vals url.Values, botToken string) string {
	var pairs []string
	for key, values := range vals {
		if key == "hash" {
			continue
		}
		for _, v := range values {
			pairs = append(pairs, key+"="+v)
		}
	}
	sort.Strings(pairs)

	secretKey := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hex.EncodeToString(hmacSHA256(secretKey, []byte(strings.Join(pairs, "\n"))))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
