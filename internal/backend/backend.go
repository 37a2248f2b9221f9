// Package backend implements the HTTP client for the remote pump
// authorization API: authorize/deauthorize/refuel/intake/fetch-cards,
// with the network-vs-application error classification the rest of
// the system depends on for backlog/dead routing decisions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/maxirmx/fuelflux-sub000/internal/httputil"
	"github.com/maxirmx/fuelflux-sub000/internal/logging"
	"github.com/maxirmx/fuelflux-sub000/internal/store"
	"github.com/maxirmx/fuelflux-sub000/internal/types"
)

const (
	connectTimeout   = 5 * time.Second
	readWriteTimeout = 10 * time.Second
)

// Backend is the capability the Controller and Cache Manager depend
// on; production code uses *Client, tests use a stub.
type Backend interface {
	Authorize(ctx context.Context, uid string) (types.UserSession, error)
	Deauthorize()
	Refuel(ctx context.Context, tank types.TankNumber, volume types.Volume) error
	Intake(ctx context.Context, tank types.TankNumber, volume types.Volume, dir types.IntakeDirection) error
	RefuelPayload(ctx context.Context, raw string) error
	IntakePayload(ctx context.Context, raw string) error
	FetchCards(ctx context.Context, first, number int) ([]CardRecord, error)
	LastError() string
	IsAuthorized() bool
}

// CardRecord is one row of a fetch-cards page.
type CardRecord struct {
	UID       string
	Role      types.Role
	Allowance types.Volume
}

// session is the client's current bearer-token authorization.
type session struct {
	uid                 string
	token               string
	role                types.Role
	allowance           types.Volume
	price               types.Price
	tanks               []types.TankInfo
	authorizedFromCache bool
	authorized          bool
}

// Client is the HTTP implementation of Backend.
type Client struct {
	baseURL       string
	controllerUID string
	httpClient    *http.Client
	limiter       *rate.Limiter
	log           *logging.Logger
	store         *store.Store // may be nil: backlog/dead recording becomes a no-op
	executor      Executor

	mu      sync.Mutex
	sess    session
	lastErr string
}

// Executor is the subset of the bounded executor's API the backend
// needs to fire-and-forget a deauthorize call. Production code passes
// the real executor; a nil Executor makes Deauthorize spawn a
// short-lived goroutine instead, per spec.md §4.2.
type Executor interface {
	Submit(task func()) bool
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithStore attaches a durable store for backlog/dead recording.
func WithStore(s *store.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithExecutor attaches a bounded executor for async deauthorize.
func WithExecutor(e Executor) Option {
	return func(c *Client) { c.executor = e }
}

// WithRateLimit overrides the default limiter applied to every backend
// request.
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst) }
}

// New builds a Client targeting baseURL, identifying itself to the
// backend as controllerUID.
func New(baseURL, controllerUID string, log *logging.Logger, opts ...Option) *Client {
	if log == nil {
		log = logging.NewFromEnv("backend")
	}
	c := &Client{
		baseURL:       baseURL,
		controllerUID: controllerUID,
		httpClient:    httputil.NewClient(connectTimeout, readWriteTimeout),
		limiter:       rate.NewLimiter(rate.Limit(5), 10),
		log:           log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastError returns the error text of the most recent failed call,
// network or application, or "" if none occurred since the last
// successful Authorize.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// IsAuthorized reports whether the client currently holds a bearer
// token from a successful Authorize call.
func (c *Client) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.authorized
}

func (c *Client) setLastError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

// doJSON posts req (marshaled to JSON) to path, optionally bearing the
// current token, and returns the raw response body. A transport
// failure of any kind is reported as the synthetic network apiError.
func (c *Client) doJSON(ctx context.Context, path string, req interface{}, bearer bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &apiError{Code: codeNetworkError, Text: "rate limiter: " + err.Error()}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &apiError{Code: codeNetworkError, Text: "marshal request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &apiError{Code: codeNetworkError, Text: "build request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer {
		c.mu.Lock()
		token := c.sess.token
		c.mu.Unlock()
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &apiError{Code: codeNetworkError, Text: "communication error"}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &apiError{Code: codeNetworkError, Text: "communication error"}
	}

	if resp.StatusCode >= 500 {
		return nil, &apiError{Code: codeNetworkError, Text: "communication error"}
	}

	codeResult := gjson.GetBytes(respBody, "CodeError")
	if codeResult.Exists() && codeResult.Int() != 0 {
		text := gjson.GetBytes(respBody, "TextError").String()
		if text == "" {
			text = "application error"
		}
		return respBody, &apiError{Code: int(codeResult.Int()), Text: text}
	}

	return respBody, nil
}

// logTokenExpiry parses (without verifying) a JWT bearer token purely
// to log its remaining lifetime for operational visibility.
func (c *Client) logTokenExpiry(ctx context.Context, token string) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	c.log.WithContext(ctx).WithField("expires_in", time.Until(exp.Time).String()).Debug("bearer token expiry")
}

// Authorize requests a session for uid. Rejects if already authorized.
func (c *Client) Authorize(ctx context.Context, uid string) (types.UserSession, error) {
	c.mu.Lock()
	alreadyAuthed := c.sess.authorized
	c.mu.Unlock()
	if alreadyAuthed {
		return types.UserSession{}, ErrAlreadyAuthed
	}

	reqBody := map[string]string{"CardUid": uid, "PumpControllerUid": c.controllerUID}
	body, err := c.doJSON(ctx, "/api/pump/authorize", reqBody, false)
	if err != nil {
		c.setLastError(err.Error())
		return types.UserSession{}, err
	}

	token := gjson.GetBytes(body, "Token").String()
	roleID := int(gjson.GetBytes(body, "RoleId").Int())
	role := types.RoleFromID(roleID)

	sess := session{
		uid:        uid,
		token:      token,
		role:       role,
		allowance:  gjson.GetBytes(body, "Allowance").Float(),
		price:      gjson.GetBytes(body, "Price").Float(),
		authorized: true,
	}
	for _, tank := range gjson.GetBytes(body, "fuelTanks").Array() {
		sess.tanks = append(sess.tanks, types.TankInfo{
			ID:   int(tank.Get("idTank").Int()),
			Name: tank.Get("nameTank").String(),
		})
	}

	c.mu.Lock()
	c.sess = sess
	c.lastErr = ""
	c.mu.Unlock()

	if token != "" {
		c.logTokenExpiry(ctx, token)
	}

	return types.UserSession{
		UID:            uid,
		Role:           role,
		Allowance:      sess.allowance,
		Price:          sess.price,
		AvailableTanks: sess.tanks,
	}, nil
}

// Deauthorize clears local session state immediately and fires the
// remote deauthorize call asynchronously. Fire-and-forget: the result
// is logged, never surfaced to the caller.
func (c *Client) Deauthorize() {
	c.mu.Lock()
	wasAuthorized := c.sess.authorized
	c.sess = session{}
	c.mu.Unlock()
	if !wasAuthorized {
		return
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout+readWriteTimeout)
		defer cancel()
		if _, err := c.doJSON(ctx, "/api/pump/deauthorize", map[string]string{}, true); err != nil {
			c.log.WithContext(ctx).WithError(err).Debug("deauthorize failed (fire-and-forget)")
		}
	}

	if c.executor != nil && c.executor.Submit(task) {
		return
	}
	go task()
}

// Refuel reports a completed customer refuel. Role, tank, and
// allowance are validated before any request is made.
func (c *Client) Refuel(ctx context.Context, tank types.TankNumber, volume types.Volume) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if err := c.checkTransactionPreconditions(sess, types.RoleCustomer, tank, volume); err != nil {
		return err
	}

	reqBody := map[string]interface{}{
		"TankNumber": tank,
		"FuelVolume": volume,
		"TimeAt":     nowMillis(),
	}
	onSuccess := func() {
		c.mu.Lock()
		c.sess.allowance -= volume
		if c.sess.allowance < 0 {
			c.sess.allowance = 0
		}
		c.mu.Unlock()
	}
	return c.reportTransaction(ctx, "/api/pump/refuel", reqBody, sess.uid, onSuccess, types.MethodRefuel)
}

// Intake reports a completed operator fuel intake/removal.
func (c *Client) Intake(ctx context.Context, tank types.TankNumber, volume types.Volume, dir types.IntakeDirection) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if err := c.checkTransactionPreconditions(sess, types.RoleOperator, tank, volume); err != nil {
		return err
	}

	reqBody := map[string]interface{}{
		"TankNumber":   tank,
		"IntakeVolume": volume,
		"Direction":    int(dir),
		"TimeAt":       nowMillis(),
	}
	return c.reportTransaction(ctx, "/api/pump/fuel-intake", reqBody, sess.uid, nil, types.MethodIntake)
}

func (c *Client) checkTransactionPreconditions(sess session, wantRole types.Role, tank types.TankNumber, volume types.Volume) error {
	if !sess.authorized || sess.role != wantRole {
		return ErrForbidden
	}
	if !sessionHasTank(sess, tank) {
		return ErrForbidden
	}
	if volume < 0 || (wantRole == types.RoleCustomer && volume > sess.allowance) {
		return ErrForbidden
	}
	return nil
}

func sessionHasTank(sess session, tank types.TankNumber) bool {
	if sess.authorizedFromCache {
		return tank > 0
	}
	for _, t := range sess.tanks {
		if t.ID == tank {
			return true
		}
	}
	return false
}

// reportTransaction posts the request, classifying failures into the
// backlog (network error) or dead (application error) queue, and
// invokes onSuccess when the call succeeds.
func (c *Client) reportTransaction(ctx context.Context, path string, reqBody map[string]interface{}, uid string, onSuccess func(), method types.MessageMethod) error {
	_, err := c.doJSON(ctx, path, reqBody, true)
	if err == nil {
		if onSuccess != nil {
			onSuccess()
		}
		return nil
	}

	c.setLastError(err.Error())
	if c.store != nil {
		payload := encodeTransaction(reqBody)
		if IsNetworkError(err) {
			c.store.AddBacklog(ctx, uid, method, payload)
		} else if IsApplicationError(err) {
			c.store.AddDead(ctx, uid, method, payload)
		}
	}
	return err
}

// RefuelPayload replays a previously serialized refuel transaction
// (from the backlog) under the current bearer token.
func (c *Client) RefuelPayload(ctx context.Context, raw string) error {
	return c.replayPayload(ctx, "/api/pump/refuel", raw)
}

// IntakePayload replays a previously serialized intake transaction.
func (c *Client) IntakePayload(ctx context.Context, raw string) error {
	return c.replayPayload(ctx, "/api/pump/fuel-intake", raw)
}

func (c *Client) replayPayload(ctx context.Context, path, raw string) error {
	var reqBody map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &reqBody); err != nil {
		return fmt.Errorf("backend: decode replay payload: %w", err)
	}
	_, err := c.doJSON(ctx, path, reqBody, true)
	if err != nil {
		c.setLastError(err.Error())
	}
	return err
}

// FetchCards returns one page of the backend's card/allowance roster.
func (c *Client) FetchCards(ctx context.Context, first, number int) ([]CardRecord, error) {
	reqBody := map[string]interface{}{"PumpControllerUid": c.controllerUID}
	path := fmt.Sprintf("/api/pump/cards?first=%d&number=%d", first, number)
	body, err := c.doJSON(ctx, path, reqBody, true)
	if err != nil {
		c.setLastError(err.Error())
		return nil, err
	}

	result := gjson.ParseBytes(body)
	if !result.IsArray() {
		c.setLastError("fetch_cards: expected a JSON array")
		return nil, fmt.Errorf("%w: fetch_cards response is not an array", ErrApplication)
	}

	var records []CardRecord
	for _, item := range result.Array() {
		uidField := item.Get("Uid")
		if uidField.Type != gjson.String {
			continue
		}
		records = append(records, CardRecord{
			UID:       uidField.String(),
			Role:      types.RoleFromID(int(item.Get("RoleId").Int())),
			Allowance: item.Get("Allowance").Float(),
		})
	}
	return records, nil
}

func encodeTransaction(reqBody map[string]interface{}) string {
	b, _ := json.Marshal(reqBody)
	return string(b)
}

var nowMillisOverride func() int64

// nowMillis returns the current time in epoch milliseconds. Tests may
// override nowMillisOverride for determinism.
func nowMillis() int64 {
	if nowMillisOverride != nil {
		return nowMillisOverride()
	}
	return time.Now().UnixMilli()
}
