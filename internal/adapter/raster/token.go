package raster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenSource supplies bearer tokens for the raster session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token. An empty token sends
// unauthenticated requests, which is useful against local gateways.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// FileToken re-reads a token file on every call, so an external refresher
// (e.g. a cron job printing a fresh access token) keeps long runs authorised.
type FileToken struct {
	Path string
}

func (f FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	return token, nil
}
