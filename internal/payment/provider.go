// Package payment is the boundary to the mobile-money provider.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Method string

const (
	MethodMTN    Method = "MTN"
	MethodOrange Method = "ORANGE"
)

const countryPrefix = "237"

var (
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrInvalidMethod = errors.New("invalid payment method")
)

type Direction string

const (
	Collect  Direction = "collect"
	Disburse Direction = "disburse"
)

type Request struct {
	Direction Direction
	AccountID string
	Amount    int64
	Currency  string
	Phone     string
	Method    Method
}

// Provider starts a payment and returns the provider's external reference.
// The outcome arrives later through the payment callback.
type Provider interface {
	InitiatePayment(ctx context.Context, req Request) (string, error)
}

func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(raw))) {
	case MethodMTN:
		return MethodMTN, nil
	case MethodOrange:
		return MethodOrange, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, raw)
}

// NormalizePhone strips separators and prefixes the country code when it is
// missing.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0, r == ' ', r == '-', r == '.':
		default:
			return "", ErrInvalidPhone
		}
	}
	digits := b.String()
	if !strings.HasPrefix(digits, countryPrefix) {
		digits = countryPrefix + digits
	}
	if len(digits) < len(countryPrefix)+8 || len(digits) > len(countryPrefix)+9 {
		return "", ErrInvalidPhone
	}
	return digits, nil
}

// SandboxProvider accepts every request and issues ADB_<unix nanos>
// references. Settlement is driven by the callback endpoint or an admin.
type SandboxProvider struct {
	now func() time.Time
}

func NewSandboxProvider() *SandboxProvider {
	return &SandboxProvider{now: time.Now}
}

func (p *SandboxProvider) InitiatePayment(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Amount <= 0 {
		return "", fmt.Errorf("sandbox: amount must be positive, got %d", req.Amount)
	}
	if _, err := ParseMethod(string(req.Method)); err != nil {
		return "", err
	}
	return fmt.Sprintf("ADB_%d", p.now().UnixNano()), nil
}
