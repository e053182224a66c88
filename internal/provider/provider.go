// Package provider 定义远程邮箱服务契约及其实现。
//
// 远程服务负责真正的地址路由；本地不保存任何远程状态。
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"tempmail/mailbot/internal/domain"
)

// Client 远程邮箱服务契约。
//
// Provision 失败时返回包装了 domain.ErrProviderUnavailable 的错误；
// Release 在远程不存在路由时返回 domain.ErrAddressNotFound，注册中心将其视为成功。
type Client interface {
	Provision(ctx context.Context) (string, error)
	Release(ctx context.Context, address string) error
}

// localPartLength 随机前缀长度
const localPartLength = 12

// randomLocalPart 生成随机前缀（小写字母与数字）。
func randomLocalPart() string {
	base := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return base[:localPartLength]
}

// newAddress 在指定域名下生成随机地址
func newAddress(mailDomain string) (string, error) {
	address := randomLocalPart() + "@" + mailDomain
	if err := domain.ValidateAddress(address); err != nil {
		return "", fmt.Errorf("generate address at %q: %w", mailDomain, err)
	}
	return address, nil
}
