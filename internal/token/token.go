// Package token issues opaque channel credentials for the managed
// media-relay integration path. A credential binds a channel name to a
// bounded validity window and is signed with the app certificate.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyChannel = errors.New("channel name required")
	ErrExpired      = errors.New("credential expired")
	ErrBadSignature = errors.New("credential signature mismatch")
)

const DefaultTTL = 3600 * time.Second

// Builder mints credentials. The zero clock means time.Now; tests
// inject a fixed one.
type Builder struct {
	appID       string
	certificate string
	ttl         time.Duration
	now         func() time.Time
}

func NewBuilder(appID, certificate string, ttl time.Duration) *Builder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Builder{appID: appID, certificate: certificate, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build returns a credential for the channel, valid for the builder's
// TTL from issuance. The string is opaque to callers.
func (b *Builder) Build(channel string) (string, error) {
	if channel == "" {
		return "", ErrEmptyChannel
	}
	expireAt := b.now().Add(b.ttl).Unix()
	payload := fmt.Sprintf("%s:%d", channel, expireAt)
	mac := b.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload + ":" + mac)), nil
}

// Verify decodes a credential and checks channel, window, and
// signature. Used by tests and any co-deployed relay.
func (b *Builder) Verify(credential, channel string) error {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil {
		return fmt.Errorf("decode credential: %w", err)
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 {
		return ErrBadSignature
	}
	gotChannel, expireStr, mac := parts[0], parts[1], parts[2]
	if gotChannel != channel {
		return ErrBadSignature
	}
	want := b.sign(gotChannel + ":" + expireStr)
	if !hmac.Equal([]byte(mac), []byte(want)) {
		return ErrBadSignature
	}
	expireAt, err := strconv.ParseInt(expireStr, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if b.now().Unix() >= expireAt {
		return ErrExpired
	}
	return nil
}

func (b *Builder) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(b.certificate))
	h.Write([]byte(b.appID + "|" + payload))
	return hex.EncodeToString(h.Sum(nil))
}
