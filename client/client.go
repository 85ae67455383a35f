package client

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/InsulaLabs/rfs/models"
)

const (
	defaultTimeout = 10 * time.Second
)

var (
	ErrUnauthorized = errors.New("unauthorized")
)

// CommandError is a failed command as reported by the service: the
// stable token plus the full server message.
type CommandError struct {
	ErrorType string
	Message   string
	Status    int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("server error (status %d): %s - %s", e.Status, e.ErrorType, e.Message)
}

type Config struct {
	HostPort     string
	ClientDomain string
	ApiToken     string
	UseTLS       bool
	SkipVerify   bool
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Client is the API client for the rfs service.
type Client struct {
	baseURL    *url.URL
	wsURL      *url.URL
	httpClient *http.Client
	apiToken   string
	logger     *slog.Logger
}

// NewClient creates a new rfs API client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, fmt.Errorf("hostPort cannot be empty")
	}
	if cfg.ApiToken == "" {
		return nil, fmt.Errorf("apiToken cannot be empty")
	}
	clientLogger := cfg.Logger.WithGroup("rfs_client")

	scheme := "http"
	wsScheme := "ws"
	if cfg.UseTLS {
		scheme = "https"
		wsScheme = "wss"
	}

	host := cfg.HostPort
	if cfg.ClientDomain != "" {
		_, port, err := splitHostPort(cfg.HostPort)
		if err != nil {
			return nil, fmt.Errorf("failed to parse port from HostPort '%s': %w", cfg.HostPort, err)
		}
		host = cfg.ClientDomain + ":" + port
	}

	baseURL, err := url.Parse(fmt.Sprintf("%s://%s", scheme, host))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	wsURL, err := url.Parse(fmt.Sprintf("%s://%s", wsScheme, host))
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket URL: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.SkipVerify,
			},
		},
		Timeout: cfg.Timeout,
	}

	return &Client{
		baseURL:    baseURL,
		wsURL:      wsURL,
		httpClient: httpClient,
		apiToken:   cfg.ApiToken,
		logger:     clientLogger,
	}, nil
}

func splitHostPort(hostPort string) (string, string, error) {
	for i := len(hostPort) - 1; i >= 0; i-- {
		if hostPort[i] == ':' {
			return hostPort[:i], hostPort[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no port in '%s'", hostPort)
}

// doRequest performs one JSON request against the service.
func (c *Client) doRequest(method, path string, queryParams map[string]string, body any, target any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(queryParams) > 0 {
		q := reqURL.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, reqURL.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request %s %s: %w", method, reqURL.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	c.logger.Debug("Sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request %s %s failed: %w", method, reqURL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errorResp models.ErrorResponse
		raw, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			if jsonErr := json.Unmarshal(raw, &errorResp); jsonErr == nil && errorResp.Message != "" {
				return &CommandError{
					ErrorType: errorResp.ErrorType,
					Message:   errorResp.Message,
					Status:    resp.StatusCode,
				}
			}
		}
		return fmt.Errorf("server returned status %d for %s %s", resp.StatusCode, method, reqURL.String())
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response body for %s %s: %w", method, reqURL.String(), err)
		}
	}
	return nil
}

// Exec runs one raw command vector and returns the engine reply.
func (c *Client) Exec(args ...string) (any, error) {
	var rsp models.ExecResponse
	err := c.doRequest(http.MethodPost, "/fs/api/v1/exec", nil, models.ExecRequest{Args: args}, &rsp)
	if err != nil {
		return nil, err
	}
	return rsp.Reply, nil
}

func (c *Client) execInt(args ...string) (int64, error) {
	reply, err := c.Exec(args...)
	if err != nil {
		return 0, err
	}
	return toInt(reply)
}

func (c *Client) execString(args ...string) (string, error) {
	reply, err := c.Exec(args...)
	if err != nil {
		return "", err
	}
	s, ok := reply.(string)
	if !ok {
		return "", fmt.Errorf("unexpected reply shape %T, want string", reply)
	}
	return s, nil
}

func (c *Client) execStrings(args ...string) ([]string, error) {
	reply, err := c.Exec(args...)
	if err != nil {
		return nil, err
	}
	arr, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply shape %T, want array", reply)
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected array element %T, want string", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func toInt(reply any) (int64, error) {
	switch n := reply.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected reply shape %T, want integer", reply)
	}
}

// pairsToMap folds a flat key/value-pair reply into a map.
func pairsToMap(reply any) (map[string]any, error) {
	arr, ok := reply.([]any)
	if !ok || len(arr)%2 != 0 {
		return nil, fmt.Errorf("unexpected reply shape for key/value pairs")
	}
	out := make(map[string]any, len(arr)/2)
	for i := 0; i < len(arr); i += 2 {
		name, ok := arr[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected pair key %T, want string", arr[i])
		}
		out[name] = arr[i+1]
	}
	return out, nil
}

// --- Filesystem Operations ---

// Echo writes data to path, creating parents as needed. Returns bytes
// written.
func (c *Client) Echo(key, path, data string) (int64, error) {
	return c.execInt("FS.ECHO", key, path, data)
}

// Append appends data to the file at path. Returns bytes appended.
func (c *Client) Append(key, path, data string) (int64, error) {
	return c.execInt("FS.APPEND", key, path, data)
}

// Cat returns the full payload of the file at path.
func (c *Client) Cat(key, path string) (string, error) {
	return c.execString("FS.CAT", key, path)
}

func (c *Client) Touch(key, path string) error {
	_, err := c.execInt("FS.TOUCH", key, path)
	return err
}

func (c *Client) Mkdir(key, path string, parents bool) error {
	args := []string{"FS.MKDIR", key, path}
	if parents {
		args = append(args, "PARENTS")
	}
	_, err := c.execInt(args...)
	return err
}

// Ls lists entry names of the directory at path in ascending order.
func (c *Client) Ls(key, path string) ([]string, error) {
	return c.execStrings("FS.LS", key, path)
}

// LsLong lists the directory with per-entry metadata tuples.
func (c *Client) LsLong(key, path string) ([]Entry, error) {
	reply, err := c.Exec("FS.LS", key, path, "LONG")
	if err != nil {
		return nil, err
	}
	arr, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply shape %T, want array", reply)
	}
	entries := make([]Entry, 0, len(arr))
	for _, item := range arr {
		tuple, ok := item.([]any)
		if !ok || len(tuple) != 5 {
			return nil, fmt.Errorf("unexpected entry tuple in LS reply")
		}
		name, _ := tuple[0].(string)
		typ, _ := tuple[1].(string)
		mode, _ := tuple[2].(string)
		size, err := toInt(tuple[3])
		if err != nil {
			return nil, err
		}
		mtime, err := toInt(tuple[4])
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Name: name, Type: typ, ModeOctal: mode, Size: size, MtimeMs: mtime,
		})
	}
	return entries, nil
}

// Rm removes the entry at path. Returns nodes removed.
func (c *Client) Rm(key, path string, recursive bool) (int64, error) {
	args := []string{"FS.RM", key, path}
	if recursive {
		args = append(args, "RECURSIVE")
	}
	return c.execInt(args...)
}

// Cp copies src to dst. Returns nodes copied.
func (c *Client) Cp(key, src, dst string, recursive bool) (int64, error) {
	args := []string{"FS.CP", key, src, dst}
	if recursive {
		args = append(args, "RECURSIVE")
	}
	return c.execInt(args...)
}

func (c *Client) Mv(key, src, dst string) error {
	_, err := c.execInt("FS.MV", key, src, dst)
	return err
}

// Find returns the absolute paths under root whose basename matches the
// glob pattern. typeFilter may be "file", "dir", "symlink" or empty.
func (c *Client) Find(key, root, pattern, typeFilter string) ([]string, error) {
	args := []string{"FS.FIND", key, root, pattern}
	if typeFilter != "" {
		args = append(args, "TYPE", typeFilter)
	}
	return c.execStrings(args...)
}

// Grep returns the matching lines under root for the glob pattern.
func (c *Client) Grep(key, root, pattern string, nocase bool) ([]GrepHit, error) {
	args := []string{"FS.GREP", key, root, pattern}
	if nocase {
		args = append(args, "NOCASE")
	}
	reply, err := c.Exec(args...)
	if err != nil {
		return nil, err
	}
	arr, ok := reply.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected reply shape %T, want array", reply)
	}
	hits := make([]GrepHit, 0, len(arr))
	for _, item := range arr {
		triple, ok := item.([]any)
		if !ok || len(triple) != 3 {
			return nil, fmt.Errorf("unexpected triple in GREP reply")
		}
		path, _ := triple[0].(string)
		line, err := toInt(triple[1])
		if err != nil {
			return nil, err
		}
		text, _ := triple[2].(string)
		hits = append(hits, GrepHit{Path: path, Line: line, Text: text})
	}
	return hits, nil
}

// Stat returns the metadata pairs of the node at path without following
// a final symlink.
func (c *Client) Stat(key, path string) (map[string]any, error) {
	reply, err := c.Exec("FS.STAT", key, path)
	if err != nil {
		return nil, err
	}
	return pairsToMap(reply)
}

// Test reports whether path resolves.
func (c *Client) Test(key, path string) (bool, error) {
	n, err := c.execInt("FS.TEST", key, path)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Chmod(key, path, mode string) error {
	_, err := c.execInt("FS.CHMOD", key, path, mode)
	return err
}

func (c *Client) Chown(key, path string, uid, gid uint32) error {
	_, err := c.execInt("FS.CHOWN", key, path, fmt.Sprintf("%d", uid), fmt.Sprintf("%d", gid))
	return err
}

func (c *Client) Ln(key, target, link string) error {
	_, err := c.execInt("FS.LN", key, target, link)
	return err
}

func (c *Client) Readlink(key, path string) (string, error) {
	return c.execString("FS.READLINK", key, path)
}

// Tree returns the nested listing reply for path. depth of zero means
// unbounded.
func (c *Client) Tree(key, path string, depth int) (any, error) {
	args := []string{"FS.TREE", key, path}
	if depth > 0 {
		args = append(args, "DEPTH", fmt.Sprintf("%d", depth))
	}
	return c.Exec(args...)
}

// Info returns the volume summary pairs.
func (c *Client) Info(key string) (map[string]any, error) {
	reply, err := c.Exec("FS.INFO", key)
	if err != nil {
		return nil, err
	}
	return pairsToMap(reply)
}

func (c *Client) Utimens(key, path string, atimeMs, mtimeMs uint64) error {
	_, err := c.execInt("FS.UTIMENS", key, path, fmt.Sprintf("%d", atimeMs), fmt.Sprintf("%d", mtimeMs))
	return err
}

// --- Engine Operations ---

// Del destroys the volume at key. Returns whether anything existed.
func (c *Client) Del(key string) (bool, error) {
	n, err := c.execInt("DEL", key)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) Exists(key string) (bool, error) {
	n, err := c.execInt("EXISTS", key)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Memory returns the estimated in-memory size of the volume at key.
func (c *Client) Memory(key string) (int64, error) {
	return c.execInt("MEMORY", key)
}

// Keys lists volume keys with the given prefix.
func (c *Client) Keys(prefix string) ([]string, error) {
	var rsp models.KeysResponse
	err := c.doRequest(http.MethodGet, "/fs/api/v1/keys", map[string]string{"prefix": prefix}, nil, &rsp)
	if err != nil {
		return nil, err
	}
	return rsp.Keys, nil
}

// Ping checks liveness and reports the service type tag and uptime.
func (c *Client) Ping() (*models.PingResponse, error) {
	var rsp models.PingResponse
	if err := c.doRequest(http.MethodGet, "/fs/api/v1/ping", nil, nil, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// Entry mirrors one LONG listing tuple.
type Entry struct {
	Name      string
	Type      string
	ModeOctal string
	Size      int64
	MtimeMs   int64
}

// GrepHit mirrors one GREP reply triple.
type GrepHit struct {
	Path string
	Line int64
	Text string
}
