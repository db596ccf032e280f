package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"resume-ranker/pkg/ratelimit"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// JSONClient 基于 hertz 客户端的 JSON POST 封装，供 OpenAI 兼容接口使用
type JSONClient struct {
	c       *client.Client
	timeout time.Duration
}

// NewJSONClient 创建 hertz 客户端，timeout <= 0 时不设置单次请求超时
func NewJSONClient(timeout time.Duration) (*JSONClient, error) {
	opts := []config.ClientOption{client.WithDialTimeout(10 * time.Second)}
	if timeout > 0 {
		opts = append(opts, client.WithClientReadTimeout(timeout))
	}
	c, err := client.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 hertz 客户端失败: %w", err)
	}
	return &JSONClient{c: c, timeout: timeout}, nil
}

// PostJSON 以 Bearer 鉴权发送 payload，2xx 时把响应体解码到 out。
// 非 2xx 返回 *ratelimit.StatusError，交给限流代理判断是否重试。
func (j *JSONClient) PostJSON(ctx context.Context, url, apiKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.SetMethod(consts.MethodPost)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.SetBody(body)

	if j.timeout > 0 {
		err = j.c.DoTimeout(ctx, req, resp, j.timeout)
	} else {
		err = j.c.Do(ctx, req, resp)
	}
	if err != nil {
		return fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}

	status := resp.StatusCode()
	respBody := resp.Body()
	if status < 200 || status >= 300 {
		return &ratelimit.StatusError{StatusCode: status, Body: truncateBody(respBody)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("反序列化响应失败: %w", err)
	}
	return nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
