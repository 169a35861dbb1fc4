// Package semp is a client for the broker's SEMP v2 management API. It
// implements browse.Management plus the queue listing and message actions
// used by bulk operations.
package semp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/epalmerini/msgscope/internal/broker"
	"github.com/epalmerini/msgscope/internal/browse"
	"github.com/epalmerini/msgscope/internal/message"
	"github.com/epalmerini/msgscope/internal/paging"
)

const (
	monitorPath = "/SEMP/v2/monitor"
	actionPath  = "/SEMP/v2/action"
)

// Client talks to the SEMP v2 monitor and action APIs of one broker.
type Client struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

// NewClient creates a client for the management endpoint of conn.
func NewClient(conn broker.Connection) *Client {
	return New(conn.BaseURL(), conn.Management.Username, conn.Management.Password)
}

// New creates a client for baseURL (scheme, host and port only).
func New(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx SEMP response.
type APIError struct {
	StatusCode  int
	Status      string
	Code        int
	Description string
	Operation   string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("SEMP %s failed: status %d", e.Operation, e.StatusCode)
	if e.Status != "" {
		msg += " " + e.Status
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// IsNotFound reports whether err is a SEMP "not found" response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type responseMeta struct {
	Paging *struct {
		CursorQuery string `json:"cursorQuery"`
		NextPageURI string `json:"nextPageUri"`
	} `json:"paging"`
	Error *struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
		Status      string `json:"status"`
	} `json:"error"`
	ResponseCode int `json:"responseCode"`
}

func (m responseMeta) nextCursor() string {
	if m.Paging == nil {
		return ""
	}
	if m.Paging.CursorQuery != "" {
		return m.Paging.CursorQuery
	}
	return m.Paging.NextPageURI
}

type response[T any] struct {
	Data T            `json:"data"`
	Meta responseMeta `json:"meta"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, reqURL, nil)
	}
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.client.Do(req)
}

// call performs one request and decodes the data member of the response
// into out, returning the raw continuation cursor, if any.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body []byte, out any) (string, error) {
	resp, err := c.doRequest(ctx, method, path, query, body)
	if err != nil {
		return "", fmt.Errorf("SEMP %s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("SEMP %s: failed to read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", c.responseError(op, resp.StatusCode, raw)
	}

	env := response[json.RawMessage]{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return "", fmt.Errorf("SEMP %s: invalid response: %w", op, err)
		}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("SEMP %s: invalid data: %w", op, err)
		}
	}
	return env.Meta.nextCursor(), nil
}

// responseError turns an error response into an *APIError, wrapped in a
// *browse.PermissionError for authorization failures.
func (c *Client) responseError(op string, status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Operation: op}
	var env response[json.RawMessage]
	if json.Unmarshal(body, &env) == nil && env.Meta.Error != nil {
		apiErr.Code = env.Meta.Error.Code
		apiErr.Status = env.Meta.Error.Status
		apiErr.Description = env.Meta.Error.Description
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &browse.PermissionError{Principal: c.username, Operation: op, Err: apiErr}
	}
	return apiErr
}

func vpnPath(base, vpn string, parts ...string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("/msgVpns/")
	b.WriteString(url.PathEscape(vpn))
	for i, p := range parts {
		b.WriteByte('/')
		// Odd positions are names, even positions are collection segments.
		if i%2 == 1 {
			p = url.PathEscape(p)
		}
		b.WriteString(p)
	}
	return b.String()
}

func pageQuery(cursor string, count int) url.Values {
	q := url.Values{}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

type replayLogData struct {
	ReplayLogName  string `json:"replayLogName"`
	IngressEnabled bool   `json:"ingressEnabled"`
	EgressEnabled  bool   `json:"egressEnabled"`
}

// ReplayLogs lists the replay logs of vpn. A log is enabled for browsing
// when both ingress and egress are on.
func (c *Client) ReplayLogs(ctx context.Context, vpn string) ([]browse.ReplayLog, error) {
	logs, err := paging.Collect(ctx, func(ctx context.Context, cursor string, count int) (paging.Page[replayLogData], error) {
		var data []replayLogData
		next, err := c.call(ctx, "list replay logs", http.MethodGet,
			vpnPath(monitorPath, vpn, "replayLogs"), pageQuery(cursor, count), nil, &data)
		return paging.Page[replayLogData]{Items: data, NextCursor: next}, err
	}, paging.Options{})
	if err != nil {
		return nil, err
	}

	out := make([]browse.ReplayLog, len(logs))
	for i, l := range logs {
		out[i] = browse.ReplayLog{Name: l.ReplayLogName, Enabled: l.IngressEnabled && l.EgressEnabled}
	}
	return out, nil
}

type queueData struct {
	QueueName       string `json:"queueName"`
	NetworkTopic    string `json:"networkTopic"`
	SpooledMsgCount int64  `json:"spooledMsgCount"`
}

func (q queueData) info() browse.QueueInfo {
	return browse.QueueInfo{Name: q.QueueName, NetworkTopic: q.NetworkTopic, SpooledMsgCount: q.SpooledMsgCount}
}

func (c *Client) Queue(ctx context.Context, vpn, queue string) (browse.QueueInfo, error) {
	var data queueData
	if _, err := c.call(ctx, "get queue", http.MethodGet,
		vpnPath(monitorPath, vpn, "queues", queue), nil, nil, &data); err != nil {
		return browse.QueueInfo{}, err
	}
	return data.info(), nil
}

// ListQueues returns every queue of vpn, following the paging cursor.
func (c *Client) ListQueues(ctx context.Context, vpn string) ([]browse.QueueInfo, error) {
	queues, err := paging.Collect(ctx, func(ctx context.Context, cursor string, count int) (paging.Page[queueData], error) {
		var data []queueData
		next, err := c.call(ctx, "list queues", http.MethodGet,
			vpnPath(monitorPath, vpn, "queues"), pageQuery(cursor, count), nil, &data)
		return paging.Page[queueData]{Items: data, NextCursor: next}, err
	}, paging.Options{})
	if err != nil {
		return nil, err
	}

	out := make([]browse.QueueInfo, len(queues))
	for i, q := range queues {
		out[i] = q.info()
	}
	return out, nil
}

func (c *Client) QueueSubscriptions(ctx context.Context, vpn, queue, cursor string, count int) (paging.Page[string], error) {
	var data []struct {
		SubscriptionTopic string `json:"subscriptionTopic"`
	}
	next, err := c.call(ctx, "list queue subscriptions", http.MethodGet,
		vpnPath(monitorPath, vpn, "queues", queue, "subscriptions"), pageQuery(cursor, count), nil, &data)
	if err != nil {
		return paging.Page[string]{}, err
	}

	topics := make([]string, len(data))
	for i, d := range data {
		topics[i] = d.SubscriptionTopic
	}
	return paging.Page[string]{Items: topics, NextCursor: next}, nil
}

func (c *Client) QueueMsgs(ctx context.Context, vpn, queue string, q browse.MsgQuery) (paging.Page[message.Meta], error) {
	return c.msgs(ctx, "list queue messages", vpnPath(monitorPath, vpn, "queues", queue, "msgs"), q)
}

func (c *Client) ReplayLogMsgs(ctx context.Context, vpn, replayLog string, q browse.MsgQuery) (paging.Page[message.Meta], error) {
	return c.msgs(ctx, "list replay log messages", vpnPath(monitorPath, vpn, "replayLogs", replayLog, "msgs"), q)
}

func (c *Client) msgs(ctx context.Context, op, path string, q browse.MsgQuery) (paging.Page[message.Meta], error) {
	var data []message.Meta
	next, err := c.call(ctx, op, http.MethodGet, path, msgQuery(q), nil, &data)
	if err != nil {
		return paging.Page[message.Meta]{}, err
	}
	return paging.Page[message.Meta]{Items: data, NextCursor: next}, nil
}

// msgQuery encodes a message listing. Bounds become where clauses that
// follow the direction of the listing.
func msgQuery(q browse.MsgQuery) url.Values {
	v := pageQuery(q.Cursor, q.Count)
	order, cmp := "oldest", ">="
	if q.Order == browse.OrderNewest {
		order, cmp = "newest", "<="
	}
	v.Set("order", order)

	var where []string
	if q.FromMsgID > 0 {
		where = append(where, "msgId"+cmp+strconv.FormatInt(q.FromMsgID, 10))
	}
	if !q.FromTime.IsZero() {
		where = append(where, "spooledTime"+cmp+strconv.FormatInt(q.FromTime.Unix(), 10))
	}
	if len(where) > 0 {
		v.Set("where", strings.Join(where, ","))
	}
	return v
}

// CopyMsg copies the message with the given replication-group id from one
// queue to another.
func (c *Client) CopyMsg(ctx context.Context, vpn, fromQueue, toQueue, replicationGroupMsgID string) error {
	body, err := json.Marshal(map[string]string{
		"replicationGroupMsgId": replicationGroupMsgID,
		"sourceQueueName":       fromQueue,
	})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "copy message", http.MethodPut,
		vpnPath(actionPath, vpn, "queues", toQueue, "copyMsgFromQueue"), nil, body, nil)
	return err
}

// DeleteMsg deletes a spooled message from queue.
func (c *Client) DeleteMsg(ctx context.Context, vpn, queue string, msgID int64) error {
	_, err := c.call(ctx, "delete message", http.MethodPut,
		vpnPath(actionPath, vpn, "queues", queue, "msgs", strconv.FormatInt(msgID, 10), "delete"), nil, []byte("{}"), nil)
	return err
}

var _ browse.Management = (*Client)(nil)
