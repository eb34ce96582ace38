package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	xerrors "MarketSeer/internal/errors"
)

// StatusError 将生成端点返回的 HTTP 状态映射为统一错误码。
// 429 与过载状态可在校验层重试，其余视为 provider 不可用。
func StatusError(provider string, status int, detail string) error {
	message := fmt.Sprintf("%s 返回错误状态 %d: %s", provider, status, detail)
	switch {
	case status == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, message,
			xerrors.WithMetadata("provider", provider))
	case status == http.StatusServiceUnavailable || status == 529:
		// 529 是 Anthropic 的过载状态码。
		return xerrors.New(xerrors.CodeRateLimited, message,
			xerrors.WithMetadata("provider", provider))
	case status == http.StatusBadRequest:
		return xerrors.New(xerrors.CodeInvalidArgument, message,
			xerrors.WithMetadata("provider", provider))
	default:
		return xerrors.New(xerrors.CodeProviderUnavailable, message,
			xerrors.WithMetadata("provider", provider))
	}
}

// TransportError 将底层传输失败映射为统一错误码，超时归入 TIMEOUT。
func TransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return xerrors.Wrap(xerrors.CodeTimeout, err,
			fmt.Sprintf("请求 %s 超时", provider),
			xerrors.WithMetadata("provider", provider))
	}
	return xerrors.Wrap(xerrors.CodeProviderUnavailable, err,
		fmt.Sprintf("请求 %s 失败", provider),
		xerrors.WithMetadata("provider", provider))
}
