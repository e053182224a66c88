package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tempmail/mailbot/internal/domain"
	"tempmail/mailbot/internal/logger"
)

// routesPageSize Mailgun 路由列表分页大小
const routesPageSize = 100

// MailgunConfig Mailgun 适配器配置
type MailgunConfig struct {
	APIKey        string
	Domain        string
	APIBase       string  // 例如 https://api.mailgun.net/v3
	WebhookURL    string  // 入站邮件转发地址，留空时路由动作为 store()
	RatePerSecond float64 // 出站调用速率，<=0 表示不限制
	Timeout       time.Duration
}

// Mailgun 基于 Mailgun Routes API 的地址管理。
//
// Mailgun 没有“删除地址”的概念：地址随路由存在，删除路由即停止收信。
type Mailgun struct {
	cfg        MailgunConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewMailgun 创建 Mailgun 适配器
func NewMailgun(cfg MailgunConfig, log *zap.Logger) *Mailgun {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	return &Mailgun{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		log:     logger.OrNop(log).Named("mailgun"),
	}
}

type mailgunRoute struct {
	ID          string `json:"id"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
}

type createRouteResponse struct {
	Message string       `json:"message"`
	Route   mailgunRoute `json:"route"`
}

type listRoutesResponse struct {
	TotalCount int            `json:"total_count"`
	Items      []mailgunRoute `json:"items"`
}

type domainResponse struct {
	Domain struct {
		Name  string `json:"name"`
		State string `json:"state"`
	} `json:"domain"`
}

// Provision 生成随机地址并创建对应的收信路由。
func (m *Mailgun) Provision(ctx context.Context) (string, error) {
	address, err := newAddress(m.cfg.Domain)
	if err != nil {
		return "", err
	}

	actions := []string{"store()", "stop()"}
	if m.cfg.WebhookURL != "" {
		actions = []string{fmt.Sprintf("forward(%q)", m.cfg.WebhookURL), "stop()"}
	}

	form := url.Values{}
	form.Set("priority", "0")
	form.Set("description", "Temp mail route for "+address)
	form.Set("expression", matchExpression(address))
	for _, action := range actions {
		form.Add("action", action)
	}

	var resp createRouteResponse
	status, err := m.do(ctx, http.MethodPost, "/routes", form, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: create route returned %d", domain.ErrProviderUnavailable, status)
	}

	m.log.Info("created mail route",
		zap.String("route_id", resp.Route.ID),
		zap.String("address", address),
	)
	return address, nil
}

// Release 删除匹配该地址的全部路由；没有匹配路由时返回 domain.ErrAddressNotFound。
func (m *Mailgun) Release(ctx context.Context, address string) error {
	routes, err := m.routesFor(ctx, address)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return domain.ErrAddressNotFound
	}

	for _, route := range routes {
		status, err := m.do(ctx, http.MethodDelete, "/routes/"+url.PathEscape(route.ID), nil, nil)
		if err != nil {
			return err
		}
		// 404 表示路由已不存在，视为成功
		if status != http.StatusOK && status != http.StatusNotFound {
			return fmt.Errorf("%w: delete route %s returned %d", domain.ErrProviderUnavailable, route.ID, status)
		}
		m.log.Info("deleted mail route",
			zap.String("route_id", route.ID),
			zap.String("address", address),
		)
	}
	return nil
}

// VerifyDomain 检查发信域名在 Mailgun 上是否处于 active 状态。
func (m *Mailgun) VerifyDomain(ctx context.Context) (bool, error) {
	var resp domainResponse
	status, err := m.do(ctx, http.MethodGet, "/domains/"+url.PathEscape(m.cfg.Domain), nil, &resp)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		m.log.Warn("domain verification failed", zap.Int("status", status))
		return false, nil
	}
	return resp.Domain.State == "active", nil
}

// routesFor 分页遍历路由并筛选出匹配该地址的路由。
func (m *Mailgun) routesFor(ctx context.Context, address string) ([]mailgunRoute, error) {
	needle := strconv.Quote(strings.ToLower(address))

	var matched []mailgunRoute
	for skip := 0; ; skip += routesPageSize {
		path := fmt.Sprintf("/routes?limit=%d&skip=%d", routesPageSize, skip)

		var page listRoutesResponse
		status, err := m.do(ctx, http.MethodGet, path, nil, &page)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: list routes returned %d", domain.ErrProviderUnavailable, status)
		}

		for _, route := range page.Items {
			if strings.Contains(strings.ToLower(route.Expression), needle) {
				matched = append(matched, route)
			}
		}

		if len(page.Items) < routesPageSize || skip+len(page.Items) >= page.TotalCount {
			return matched, nil
		}
	}
}

// do 发送请求；网络错误、限流等待失败统一包装为 domain.ErrProviderUnavailable。
func (m *Mailgun) do(ctx context.Context, method, path string, form url.Values, out interface{}) (int, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.APIBase+path, body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	req.SetBasicAuth("api", m.cfg.APIKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		m.log.Warn("mailgun request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", msg),
		)
		return resp.StatusCode, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", domain.ErrProviderUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}

// matchExpression 构造只匹配单个收件人的路由表达式
func matchExpression(address string) string {
	return fmt.Sprintf("match_recipient(%s)", strconv.Quote(address))
}
