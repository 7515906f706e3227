package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	logx "appealbot/pkg/logx"
)

var ErrTokenNotFound = errors.New("session: token not found")

const DefaultTTL = time.Hour

func tokenKey(token string) string { return "token:" + token }
func chatKey(chatID int64) string { return "user_token:" + strconv.FormatInt(chatID, 10) }

type Issuer struct {
	cache Cache
	ttl   time.Duration
	log   logx.Logger
}

func NewIssuer(cache Cache, ttl time.Duration, log logx.Logger) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{cache: cache, ttl: ttl, log: log}
}

// Issue returns the chat's live token, creating one if none exists. Two
// concurrent calls for the same chat agree on a single token: the reverse
// key is claimed with SetNX and the loser adopts the winner's value.
func (i *Issuer) Issue(ctx context.Context, chatID int64) (string, error) {
	if tok, err := i.current(ctx, chatID); err == nil {
		return tok, nil
	} else if !errors.Is(err, ErrTokenNotFound) {
		return "", err
	}

	tok, err := newToken()
	if err != nil {
		return "", err
	}
	won, err := i.cache.SetNX(ctx, chatKey(chatID), tok, i.ttl)
	if err != nil {
		return "", fmt.Errorf("session: claim: %w", err)
	}
	if !won {
		existing, err := i.cache.Get(ctx, chatKey(chatID))
		switch {
		case err == nil:
			tok = existing
		case !errors.Is(err, ErrCacheMiss):
			return "", err
		}
		// Restart the reverse key's TTL so both mappings expire together.
		if err := i.cache.Set(ctx, chatKey(chatID), tok, i.ttl); err != nil {
			return "", fmt.Errorf("session: refresh claim: %w", err)
		}
	}
	if err := i.cache.Set(ctx, tokenKey(tok), strconv.FormatInt(chatID, 10), i.ttl); err != nil {
		return "", fmt.Errorf("session: store token: %w", err)
	}
	i.log.Debug("token issued", logx.Int64("chat_id", chatID))
	return tok, nil
}

// current returns the reverse-mapped token if its forward key is still
// alive. A dangling reverse key is left for Issue to repair, since a
// concurrent Issue may be between its two writes.
func (i *Issuer) current(ctx context.Context, chatID int64) (string, error) {
	tok, err := i.cache.Get(ctx, chatKey(chatID))
	if errors.Is(err, ErrCacheMiss) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", err
	}
	if _, err := i.cache.Get(ctx, tokenKey(tok)); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return "", ErrTokenNotFound
		}
		return "", err
	}
	return tok, nil
}

// Resolve maps a token back to its chat id.
func (i *Issuer) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrTokenNotFound
	}
	v, err := i.cache.Get(ctx, tokenKey(token))
	if errors.Is(err, ErrCacheMiss) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("session: corrupt token value: %w", err)
	}
	return id, nil
}

// Revoke deletes both mappings for the chat. Revoking a chat with no
// token is not an error.
func (i *Issuer) Revoke(ctx context.Context, chatID int64) error {
	tok, err := i.cache.Get(ctx, chatKey(chatID))
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return err
	}
	return i.cache.Delete(ctx, chatKey(chatID), tokenKey(tok))
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: token entropy: %w", err)
	}
	return hex.EncodeToString(b), nil
}
