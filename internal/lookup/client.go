package lookup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/star/isspass/internal/metrics"
)

const (
	DefaultIPURL      = "https://api.ipify.org"
	DefaultGeoURL     = "http://ipwho.is"
	DefaultFlyOverURL = "https://iss-pass.herokuapp.com"
	DefaultTimeout    = 10 * time.Second

	// maxBodyBytes caps how much of an upstream response is read.
	maxBodyBytes = 1 << 20
)

// Config points the client at the three upstream services.
type Config struct {
	IPURL      string
	GeoURL     string
	FlyOverURL string
	Timeout    time.Duration
}

// Client implements the three lookup steps against public JSON APIs.
// It holds no per-run state and is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client, filling unset fields of cfg with defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.IPURL == "" {
		cfg.IPURL = DefaultIPURL
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	if cfg.FlyOverURL == "" {
		cfg.FlyOverURL = DefaultFlyOverURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type ipResponse struct {
	IP string `json:"ip"`
}

// FetchMyIP returns the caller's public IPv4 address as seen by the IP echo service.
func (c *Client) FetchMyIP(ctx context.Context) (string, error) {
	endpoint, err := buildURL(c.cfg.IPURL, "", url.Values{"format": {"json"}})
	if err != nil {
		return "", &NetworkError{Step: StepIP, Err: err}
	}

	status, body, err := c.get(ctx, StepIP, endpoint)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", &ServerError{
			Step:       StepIP,
			StatusCode: status,
			Message:    fmt.Sprintf("status code %d when fetching IP: %s", status, snippet(body)),
		}
	}

	var parsed ipResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", unparsable(StepIP, status, err)
	}
	if parsed.IP == "" {
		return "", &ServerError{
			Step:       StepIP,
			StatusCode: status,
			Message:    "response is missing the ip field",
		}
	}
	return parsed.IP, nil
}

type geoResponse struct {
	IP        string  `json:"ip"`
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Latitude  Degrees `json:"latitude"`
	Longitude Degrees `json:"longitude"`
}

// FetchCoordsByIP returns the coordinates the geolocation service associates with ip.
//
// The service reports lookup failures with a 200 status and success=false in
// the body, so both the status line and the flag are checked.
func (c *Client) FetchCoordsByIP(ctx context.Context, ip string) (Coordinates, error) {
	endpoint, err := buildURL(c.cfg.GeoURL, ip, nil)
	if err != nil {
		return Coordinates{}, &NetworkError{Step: StepCoords, Err: err}
	}

	status, body, err := c.get(ctx, StepCoords, endpoint)
	if err != nil {
		return Coordinates{}, err
	}
	if status != http.StatusOK {
		return Coordinates{}, &ServerError{
			Step:       StepCoords,
			StatusCode: status,
			Message:    fmt.Sprintf("status code %d when fetching coordinates for IP %s: %s", status, ip, snippet(body)),
			IP:         ip,
		}
	}

	var parsed geoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Coordinates{}, unparsable(StepCoords, status, err)
	}

	if !parsed.Success {
		return Coordinates{}, &ServerError{
			Step:       StepCoords,
			StatusCode: status,
			Message: fmt.Sprintf("success status was %t: server message says: %s when fetching for IP %s",
				parsed.Success, parsed.Message, parsed.IP),
			InBody:          true,
			UpstreamMessage: parsed.Message,
			IP:              parsed.IP,
		}
	}

	if parsed.Latitude == "" || parsed.Longitude == "" {
		return Coordinates{}, &ServerError{
			Step:       StepCoords,
			StatusCode: status,
			Message:    fmt.Sprintf("response for IP %s is missing latitude or longitude", parsed.IP),
			IP:         parsed.IP,
		}
	}

	return Coordinates{Latitude: parsed.Latitude, Longitude: parsed.Longitude}, nil
}

type flyOverResponse struct {
	Message  string   `json:"message"`
	Response PassList `json:"response"`
}

// FetchFlyOverTimes returns the upcoming passes over coords exactly as the
// prediction service lists them.
func (c *Client) FetchFlyOverTimes(ctx context.Context, coords Coordinates) (PassList, error) {
	q := url.Values{
		"lat": {string(coords.Latitude)},
		"lon": {string(coords.Longitude)},
	}
	endpoint, err := buildURL(c.cfg.FlyOverURL, "json/", q)
	if err != nil {
		return nil, &NetworkError{Step: StepFlyOver, Err: err}
	}

	status, body, err := c.get(ctx, StepFlyOver, endpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &ServerError{
			Step:       StepFlyOver,
			StatusCode: status,
			Message:    fmt.Sprintf("status code %d when fetching ISS pass times: %s", status, snippet(body)),
		}
	}

	var parsed flyOverResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, unparsable(StepFlyOver, status, err)
	}
	if parsed.Response == nil {
		return nil, &ServerError{
			Step:       StepFlyOver,
			StatusCode: status,
			Message:    "response is missing the pass list",
		}
	}
	return parsed.Response, nil
}

// get performs one GET and returns the status code and a bounded body.
// Only transport failures are returned as errors here.
func (c *Client) get(ctx context.Context, step Step, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return 0, nil, &NetworkError{Step: step, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(string(step), "network_error", time.Since(start))
		c.logger.Debug("upstream request failed", "component", "lookup", "step", step, "error", err)
		return 0, nil, &NetworkError{Step: step, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	duration := time.Since(start)
	if err != nil {
		metrics.RecordUpstream(string(step), "network_error", duration)
		return 0, nil, &NetworkError{Step: step, Err: fmt.Errorf("reading response body: %w", err)}
	}
	metrics.RecordUpstream(string(step), metrics.StatusClass(resp.StatusCode), duration)

	c.logger.Debug("upstream request",
		"component", "lookup",
		"step", step,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
	)

	if len(body) > maxBodyBytes {
		return 0, nil, &ServerError{
			Step:       step,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("response exceeds %d byte limit", maxBodyBytes),
		}
	}
	return resp.StatusCode, body, nil
}

// buildURL joins base and path and encodes q as the query string.
func buildURL(base, path string, q url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base URL %q: %w", base, err)
	}
	if path != "" {
		u = u.JoinPath(path)
	}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func unparsable(step Step, status int, err error) *ServerError {
	return &ServerError{
		Step:       step,
		StatusCode: status,
		Message:    fmt.Sprintf("unparsable response: %v", err),
	}
}

// snippet trims a body for inclusion in an error message.
func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
