package captcha

import (
	"bytes"
	"fmt"

	"github.com/steambap/captcha"
)

const (
	numberChars    = "0123456789"
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	imageWidth  = 150
	imageHeight = 50
)

// Charset builds the challenge alphabet; lowercase is used when nothing is selected
func Charset(numbers, lowercase, uppercase bool) string {
	var charset string
	if numbers {
		charset += numberChars
	}
	if lowercase {
		charset += lowercaseChars
	}
	if uppercase {
		charset += uppercaseChars
	}
	if charset == "" {
		charset = lowercaseChars
	}
	return charset
}

// Generator draws challenge text and renders it as a PNG
type Generator struct {
	charset string
	length  int
}

// NewGenerator creates a generator producing length characters from charset
func NewGenerator(charset string, length int) (*Generator, error) {
	if length <= 0 {
		return nil, ErrInvalidLength
	}
	if charset == "" {
		charset = lowercaseChars
	}
	return &Generator{charset: charset, length: length}, nil
}

// Generate returns fresh challenge text and its PNG rendering
func (g *Generator) Generate() (string, []byte, error) {
	data, err := captcha.New(imageWidth, imageHeight, func(o *captcha.Options) {
		o.CharPreset = g.charset
		o.TextLength = g.length
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate captcha: %w", err)
	}

	var buf bytes.Buffer
	if err := data.WriteImage(&buf); err != nil {
		return "", nil, fmt.Errorf("failed to encode captcha image: %w", err)
	}
	return data.Text, buf.Bytes(), nil
}
