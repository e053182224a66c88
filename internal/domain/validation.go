package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrLocalPartTooLong = errors.New("local part too long (max 64 chars)")
	ErrDomainTooLong    = errors.New("domain too long (max 253 chars)")
	ErrInvalidLocalPart = errors.New("invalid local part format")
	ErrInvalidDomain    = errors.New("invalid domain format")
)

// RFC 5322 邮箱地址长度限制
const (
	MaxEmailLength     = 254 // 整个邮箱地址最大长度
	MaxLocalPartLength = 64  // 本地部分最大长度(@前面)
	MaxDomainLength    = 253 // 域名最大长度
)

var (
	// 本地部分只允许字母数字和 . _ - +
	localPartRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9._+-]*$`)

	// 域名验证（支持子域名，至少两级）
	domainRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)
)

// NormalizeAddress 地址统一为去空白的小写形式
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ValidateAddress 验证临时邮箱地址
func ValidateAddress(address string) error {
	address = NormalizeAddress(address)
	if len(address) > MaxEmailLength {
		return ErrEmailTooLong
	}

	localPart, domainPart, ok := strings.Cut(address, "@")
	if !ok || strings.Contains(domainPart, "@") {
		return ErrInvalidEmail
	}
	if len(localPart) > MaxLocalPartLength {
		return ErrLocalPartTooLong
	}
	if !localPartRegex.MatchString(localPart) || strings.Contains(localPart, "..") {
		return ErrInvalidLocalPart
	}
	if _, err := mail.ParseAddress(address); err != nil {
		return ErrInvalidEmail
	}
	return ValidateDomain(domainPart)
}

// ValidateDomain 验证域名
func ValidateDomain(domain string) error {
	domain = NormalizeAddress(domain)
	if domain == "" {
		return ErrInvalidDomain
	}
	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}
	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}
