package qrcode

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Renderer turns session codes into PNG QR images that a POS scanner types back as digits
type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
}

// NewRenderer creates a renderer; level is one of L, M, Q, H
func NewRenderer(size int, level string) *Renderer {
	if size <= 0 {
		size = defaultSize
	}

	var recovery qrcode.RecoveryLevel
	switch level {
	case "L":
		recovery = qrcode.Low
	case "Q":
		recovery = qrcode.High
	case "H":
		recovery = qrcode.Highest
	default:
		recovery = qrcode.Medium
	}

	return &Renderer{size: size, level: recovery}
}

// PNG renders the code as a PNG image
func (r *Renderer) PNG(code string) ([]byte, error) {
	if code == "" {
		return nil, fmt.Errorf("empty session code")
	}

	qr, err := qrcode.New(code, r.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(r.size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PNG: %w", err)
	}
	return png, nil
}

// Base64PNG renders the code as a base64 encoded PNG for JSON responses
func (r *Renderer) Base64PNG(code string) (string, error) {
	png, err := r.PNG(code)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
