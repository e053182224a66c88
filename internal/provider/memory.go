package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"tempmail/mailbot/internal/domain"
)

// Memory 进程内的远程服务实现，用于开发模式和测试。
type Memory struct {
	mu     sync.Mutex
	domain string
	routes map[string]struct{}
}

// NewMemory 创建内存实现
func NewMemory(mailDomain string) *Memory {
	return &Memory{
		domain: mailDomain,
		routes: make(map[string]struct{}),
	}
}

// Provision 生成随机地址并登记路由。
func (m *Memory) Provision(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	address, err := newAddress(m.domain)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.routes[address] = struct{}{}
	m.mu.Unlock()

	return address, nil
}

// Release 删除路由。
func (m *Memory) Release(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(address)
	if _, ok := m.routes[key]; !ok {
		return domain.ErrAddressNotFound
	}
	delete(m.routes, key)
	return nil
}

// Has 判断地址是否存在路由
func (m *Memory) Has(address string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.routes[strings.ToLower(address)]
	return ok
}

// Routes 返回当前全部路由（已排序）
func (m *Memory) Routes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.routes))
	for address := range m.routes {
		out = append(out, address)
	}
	sort.Strings(out)
	return out
}
