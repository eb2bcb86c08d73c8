package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"assist_worker/pkg/apperr"
	"assist_worker/pkg/resilience"
)

// classifyOpenAI maps a go-openai error onto the inference taxonomy.
func classifyOpenAI(provider string, err error) error {
	if err == nil {
		return nil
	}
	if e := classifyTransport(provider, err); e != nil {
		return e
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests && isQuotaExhausted(apiErr) {
			return apperr.QuotaOrAuth(provider, err)
		}
		return classifyStatus(provider, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(provider, reqErr.HTTPStatusCode, err)
	}
	return apperr.InferenceUnavailable(provider, err)
}

func isQuotaExhausted(e *openai.APIError) bool {
	code, _ := e.Code.(string)
	return code == "insufficient_quota" || e.Type == "insufficient_quota" ||
		strings.Contains(strings.ToLower(e.Message), "quota")
}

// classifyStatus maps an HTTP status. 429 without quota exhaustion is a rate
// limit and therefore transient.
func classifyStatus(provider string, code int, err error) error {
	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return apperr.InferenceTimeout(provider, err)
	case code == http.StatusTooManyRequests || code >= 500:
		return apperr.InferenceUnavailable(provider, err)
	case code >= 400:
		// Credentials, quota and malformed requests all need a human.
		return apperr.QuotaOrAuth(provider, err)
	}
	return apperr.InferenceUnavailable(provider, err)
}

// classifyGoogle maps errors from the Gemini client, which surface either as
// gRPC statuses or as googleapi HTTP errors.
func classifyGoogle(provider string, err error) error {
	if err == nil {
		return nil
	}
	if e := classifyTransport(provider, err); e != nil {
		return e
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(provider, gErr.Code, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return apperr.InferenceTimeout(provider, err)
		case codes.Unauthenticated, codes.PermissionDenied, codes.ResourceExhausted,
			codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
			return apperr.QuotaOrAuth(provider, err)
		}
	}
	return apperr.InferenceUnavailable(provider, err)
}

// classifyTransport handles failures below the API layer. It returns nil when
// err carries an API response.
func classifyTransport(provider string, err error) error {
	if apperr.IsKind(err, apperr.KindInference) {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperr.InferenceUnavailable(provider, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.InferenceTimeout(provider, err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.InferenceUnavailable(provider, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return apperr.InferenceTimeout(provider, err)
		}
		return apperr.InferenceUnavailable(provider, err)
	}
	return nil
}

// isCallerSide reports failures that say nothing about provider health.
func isCallerSide(err error) bool {
	return apperr.HasCode(err, apperr.CodeInferenceQuotaOrAuth)
}
