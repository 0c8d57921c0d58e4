package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthentication
	KindOrganization
	KindRegion
	KindRateLimit
	KindQuota
	KindServerError
	KindOverload
	KindSlowDown
	KindTimeout
	KindInvalidModel
	KindModelNotFound
	KindBadRequest
)

type kindInfo struct {
	name       string
	code       int
	statusCode int
	message    string
	fallback   bool
}

var kinds = map[ErrorKind]kindInfo{
	KindAuthentication: {"authentication", 1, http.StatusUnauthorized, "Invalid authentication", false},
	KindOrganization:   {"organization", 2, http.StatusUnauthorized, "You must be a member of an organization to use the API", false},
	KindRegion:         {"region", 3, http.StatusForbidden, "Country, region, or territory not supported", false},
	KindRateLimit:      {"rate_limit", 4, http.StatusTooManyRequests, "Rate limit reached for requests", true},
	KindQuota:          {"quota", 5, http.StatusTooManyRequests, "You exceeded your current quota, please check your plan and billing details", false},
	KindServerError:    {"server_error", 6, http.StatusInternalServerError, "The server had an error while processing your request", true},
	KindOverload:       {"overload", 7, http.StatusServiceUnavailable, "The engine is currently overloaded, please try again later", true},
	KindSlowDown:       {"slow_down", 8, http.StatusServiceUnavailable, "Slow down, please reduce your request rate", true},
	KindTimeout:        {"timeout", 9, http.StatusRequestTimeout, "Request timed out", true},
	KindInvalidModel:   {"invalid_model", 10, http.StatusBadRequest, "Invalid model specified", false},
	KindModelNotFound:  {"model_not_found", 11, http.StatusNotFound, "Model not found, inaccessible, and/or not deployed", true},
	KindBadRequest:     {"bad_request", 12, http.StatusBadRequest, "The request was malformed", true},
	KindUnknown:        {"unknown", 13, http.StatusInternalServerError, "An unexpected error occurred", true},
}

func (k ErrorKind) String() string {
	return kinds[k].name
}

// Code is the stable numeric identifier of the kind.
func (k ErrorKind) Code() int {
	return kinds[k].code
}

func (k ErrorKind) StatusCode() int {
	return kinds[k].statusCode
}

// Message is the default user facing message.
func (k ErrorKind) Message() string {
	return kinds[k].message
}

// FallbackEligible reports whether a failure of this kind may be retried once
// against the fallback model.
func (k ErrorKind) FallbackEligible() bool {
	return kinds[k].fallback
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func NewProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Err:      err,
	}
}

func (pe *ProviderError) Message() string {
	return pe.Kind.Message()
}

func (pe *ProviderError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("%s: %s: %s", pe.Provider, pe.Message(), pe.Err.Error())
	}
	return fmt.Sprintf("%s: %s", pe.Provider, pe.Message())
}

func (pe *ProviderError) Unwrap() error {
	return pe.Err
}

// AsProviderError extracts the classified provider failure from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Classify maps the status code, error code and message reported by a
// provider onto an error kind. Provider adapters extract these three values
// from their SDK specific error types and never decide the kind themselves.
func Classify(status int, code, message string) ErrorKind {
	code = strings.ToLower(code)
	message = strings.ToLower(message)

	switch status {
	case http.StatusUnauthorized:
		if strings.Contains(message, "organization") {
			return KindOrganization
		}
		return KindAuthentication
	case http.StatusForbidden:
		if strings.Contains(message, "region") || strings.Contains(message, "country") || code == "unsupported_country_region_territory" {
			return KindRegion
		}
		return KindAuthentication
	case http.StatusNotFound:
		return KindModelNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusTooManyRequests:
		if code == "insufficient_quota" || strings.Contains(message, "quota") {
			return KindQuota
		}
		return KindRateLimit
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if code == "model_not_found" || code == "invalid_model" || (strings.Contains(message, "model") && strings.Contains(message, "invalid")) {
			return KindInvalidModel
		}
		return KindBadRequest
	case http.StatusServiceUnavailable:
		if strings.Contains(message, "slow down") {
			return KindSlowDown
		}
		return KindOverload
	case 529:
		return KindOverload
	}

	switch {
	case status >= 500:
		return KindServerError
	case code == "rate_limit_exceeded" || code == "rate_limit_error":
		return KindRateLimit
	case code == "overloaded_error":
		return KindOverload
	case code == "insufficient_quota":
		return KindQuota
	}

	return KindUnknown
}
