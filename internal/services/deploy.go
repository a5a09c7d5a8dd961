package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	deployRequestTimeout = 15 * time.Second
	deployMaxRetries     = 3
	deployBaseDelay      = 1 * time.Second
	deployMaxDelay       = 10 * time.Second
)

// RailwayOptions identify the service whose deployment is stopped.
type RailwayOptions struct {
	APIURL        string
	Token         string
	ServiceID     string
	EnvironmentID string
}

// Railway talks to the Railway GraphQL API to find and stop the worker's
// own deployment.
type Railway struct {
	opts   RailwayOptions
	client *http.Client
	logger zerolog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewRailway(opts RailwayOptions, logger zerolog.Logger) *Railway {
	return &Railway{
		opts:   opts,
		client: &http.Client{Timeout: deployRequestTimeout},
		logger: logger.With().Str("component", "railway").Logger(),
		sleep:  sleepCtx,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

const latestDeploymentQuery = `query latestDeployment($serviceId: String!, $environmentId: String) {
  deployments(first: 1, input: {serviceId: $serviceId, environmentId: $environmentId}) {
    edges { node { id status } }
  }
}`

const stopDeploymentMutation = `mutation stopDeployment($id: String!) {
  deploymentStop(id: $id)
}`

// LatestDeploymentID returns the id of the service's most recent deployment.
func (r *Railway) LatestDeploymentID(ctx context.Context) (string, error) {
	vars := map[string]interface{}{"serviceId": r.opts.ServiceID}
	if r.opts.EnvironmentID != "" {
		vars["environmentId"] = r.opts.EnvironmentID
	}

	var data struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	if err := r.do(ctx, graphQLRequest{Query: latestDeploymentQuery, Variables: vars}, &data); err != nil {
		return "", fmt.Errorf("failed to fetch latest deployment: %w", err)
	}
	if len(data.Deployments.Edges) == 0 || data.Deployments.Edges[0].Node.ID == "" {
		return "", fmt.Errorf("no deployments found for service %s", r.opts.ServiceID)
	}
	node := data.Deployments.Edges[0].Node
	r.logger.Debug().Str("deployment_id", node.ID).Str("status", node.Status).Msg("found latest deployment")
	return node.ID, nil
}

// StopDeployment asks Railway to stop the deployment.
func (r *Railway) StopDeployment(ctx context.Context, deploymentID string) error {
	if deploymentID == "" {
		return fmt.Errorf("refusing to stop deployment without an id")
	}
	var data struct {
		DeploymentStop bool `json:"deploymentStop"`
	}
	req := graphQLRequest{Query: stopDeploymentMutation, Variables: map[string]interface{}{"id": deploymentID}}
	if err := r.do(ctx, req, &data); err != nil {
		return fmt.Errorf("failed to stop deployment %s: %w", deploymentID, err)
	}
	if !data.DeploymentStop {
		return fmt.Errorf("railway declined to stop deployment %s", deploymentID)
	}
	return nil
}

// do posts a GraphQL request, retrying transient transport failures with
// exponential backoff.
func (r *Railway) do(ctx context.Context, gql graphQLRequest, out interface{}) error {
	body, err := json.Marshal(gql)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= deployMaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt, deployBaseDelay, deployMaxDelay)
			r.logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("wait", delay).Msg("retrying railway request")
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("railway request cancelled: %w", err)
			}
		}

		retry, err := r.attempt(ctx, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return fmt.Errorf("railway request failed after %d attempts: %w", deployMaxRetries+1, lastErr)
}

func (r *Railway) attempt(ctx context.Context, body []byte, out interface{}) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.APIURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.opts.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		return isRetryableError(err), err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return isRetryableStatus(resp.StatusCode), fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return false, fmt.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return false, fmt.Errorf("failed to decode data: %w", err)
	}
	return false, nil
}

// retryDelay calculates exponential backoff with jitter: base * 2^(attempt-1) + 0–25%
func retryDelay(attempt int, base, max time.Duration) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError checks if a network-level error is worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

// isRetryableStatus checks if an HTTP status code is worth retrying
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
