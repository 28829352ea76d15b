// Package local is an in-process Coprocessor for development and tests. It
// keeps plaintexts in memory behind opaque handles and enforces the same
// contract an external service would: proof-bound imports, per-handle
// access control and asynchronous, throttled decryption.
package local

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"golang.org/x/time/rate"
	"lukechampine.com/blake3"

	"vchain/crypto"
	"vchain/fhe"
	"vchain/observability"
	"vchain/observability/logging"
)

// Config tunes a local coprocessor.
type Config struct {
	// Secret keys the input-proof MAC. Any length is accepted.
	Secret []byte
	// Workers is the number of decryption goroutines started by Start.
	Workers int
	// QueueSize bounds the decryption backlog.
	QueueSize int
	// DecryptRate is the sustained per-requester decryption rate per second.
	// Zero disables throttling.
	DecryptRate  float64
	DecryptBurst int
	Logger       *slog.Logger
}

type ciphertext struct {
	typ   fhe.Type
	value *uint256.Int
}

type request struct {
	id      fhe.RequestID
	handle  fhe.Handle
	created time.Time
	ready   bool
	value   *big.Int
}

var (
	errQueueFull = errors.New("fhe/local: decryption queue full")
	errArity     = errors.New("fhe/local: wrong operand count")
)

// Coprocessor is the in-memory implementation of fhe.Coprocessor.
type Coprocessor struct {
	mu       sync.RWMutex
	key      [32]byte
	counter  uint64
	values   map[fhe.Handle]ciphertext
	acl      map[fhe.Handle]map[crypto.Address]struct{}
	requests map[fhe.RequestID]*request

	limitMu  sync.Mutex
	limiters map[crypto.Address]*rate.Limiter
	rate     rate.Limit
	burst    int

	pending chan *request
	workers int
	logger  *slog.Logger
	metrics *observability.CoprocessorMetrics

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New returns a coprocessor. Decryption requests stay pending until Start is
// called.
func New(cfg Config) *Coprocessor {
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 1024
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	burst := cfg.DecryptBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.DecryptRate > 0 {
		limit = rate.Limit(cfg.DecryptRate)
	}
	return &Coprocessor{
		key:      blake3.Sum256(append([]byte("vchain/fhe/local/mac"), cfg.Secret...)),
		values:   make(map[fhe.Handle]ciphertext),
		acl:      make(map[fhe.Handle]map[crypto.Address]struct{}),
		requests: make(map[fhe.RequestID]*request),
		limiters: make(map[crypto.Address]*rate.Limiter),
		rate:     limit,
		burst:    burst,
		pending:  make(chan *request, queue),
		workers:  workers,
		logger:   logger.With(slog.String("component", "fhe-local")),
		metrics:  observability.Coprocessor(),
	}
}

// Start launches the decryption workers.
func (c *Coprocessor) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.logger.Info("coprocessor started", slog.Int("workers", c.workers))
}

// Stop halts the workers and waits for them to exit. Queued requests remain
// pending and are served after the next Start.
func (c *Coprocessor) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.runMu.Unlock()
	c.wg.Wait()
	c.logger.Info("coprocessor stopped")
}

func (c *Coprocessor) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.pending:
			c.complete(req)
		}
	}
}

func (c *Coprocessor) complete(req *request) {
	c.mu.Lock()
	ct, ok := c.values[req.handle]
	if ok {
		req.value = ct.value.ToBig()
	}
	req.ready = true
	depth := len(c.pending)
	c.mu.Unlock()
	c.metrics.RecordDecryption("completed")
	c.metrics.SetQueueDepth(depth)
}

func (c *Coprocessor) nextHandle(tag byte, parts ...[]byte) fhe.Handle {
	c.counter++
	h := blake3.New(32, nil)
	var buf [9]byte
	buf[0] = tag
	binary.BigEndian.PutUint64(buf[1:], c.counter)
	h.Write(buf[:])
	for _, p := range parts {
		h.Write(p)
	}
	var out fhe.Handle
	copy(out[:], h.Sum(nil))
	return out
}

func (c *Coprocessor) mac(handle fhe.Handle, owner crypto.Address) []byte {
	h := blake3.New(32, c.key[:])
	h.Write(handle[:])
	h.Write(owner[:])
	return h.Sum(nil)
}

func mask(t fhe.Type) *uint256.Int {
	one := uint256.NewInt(1)
	m := new(uint256.Int).Lsh(one, t.BitSize())
	return m.Sub(m, one)
}

func truncate(t fhe.Type, v *uint256.Int) *uint256.Int {
	return new(uint256.Int).And(v, mask(t))
}

func (c *Coprocessor) store(t fhe.Type, v *uint256.Int, tag byte, parts ...[]byte) fhe.Handle {
	handle := c.nextHandle(tag, parts...)
	c.values[handle] = ciphertext{typ: t, value: truncate(t, v)}
	return handle
}

// Encrypt produces an ExternalInput owned by owner. It stands in for the
// client-side encryption library.
func (c *Coprocessor) Encrypt(owner crypto.Address, t fhe.Type, value *big.Int) (fhe.ExternalInput, error) {
	v, err := toUint(t, value)
	if err != nil {
		return fhe.ExternalInput{}, err
	}
	c.mu.Lock()
	handle := c.store(t, v, 0xE0, owner[:])
	c.mu.Unlock()
	return fhe.ExternalInput{Handle: handle, Proof: c.mac(handle, owner)}, nil
}

// EncryptUint64 is Encrypt for 64-bit values.
func (c *Coprocessor) EncryptUint64(owner crypto.Address, value uint64) fhe.ExternalInput {
	in, _ := c.Encrypt(owner, fhe.EUint64, new(big.Int).SetUint64(value))
	return in
}

func toUint(t fhe.Type, value *big.Int) (*uint256.Int, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %d", fhe.ErrTypeMismatch, t)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 || uint(value.BitLen()) > t.BitSize() {
		return nil, fmt.Errorf("%w: value does not fit %s", fhe.ErrTypeMismatch, t)
	}
	v, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: value overflows 256 bits", fhe.ErrTypeMismatch)
	}
	return v, nil
}

func (c *Coprocessor) VerifyAndImport(_ context.Context, in fhe.ExternalInput, caller crypto.Address) (fhe.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[in.Handle]; !ok {
		return fhe.Handle{}, fmt.Errorf("%w: %w", fhe.ErrInvalidProof, fhe.ErrUnknownHandle)
	}
	if subtle.ConstantTimeCompare(in.Proof, c.mac(in.Handle, caller)) != 1 {
		return fhe.Handle{}, fhe.ErrInvalidProof
	}
	c.grantLocked(in.Handle, caller)
	return in.Handle, nil
}

func (c *Coprocessor) Op(_ context.Context, op fhe.OpCode, operands ...fhe.Handle) (out fhe.Handle, err error) {
	defer func() { c.metrics.RecordOp(op.String(), err) }()
	if op.Arity() == 0 {
		return fhe.Handle{}, fmt.Errorf("%w: %d", fhe.ErrUnsupportedOp, op)
	}
	if len(operands) != op.Arity() {
		return fhe.Handle{}, fmt.Errorf("%w: %s wants %d", errArity, op, op.Arity())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cts := make([]ciphertext, len(operands))
	parts := make([][]byte, len(operands))
	for i, h := range operands {
		ct, ok := c.values[h]
		if !ok {
			return fhe.Handle{}, fmt.Errorf("%w: operand %d", fhe.ErrUnknownHandle, i)
		}
		cts[i] = ct
		parts[i] = append([]byte(nil), h[:]...)
	}
	resType, value, err := evaluate(op, cts)
	if err != nil {
		return fhe.Handle{}, err
	}
	return c.store(resType, value, byte(op), parts...), nil
}

func evaluate(op fhe.OpCode, in []ciphertext) (fhe.Type, *uint256.Int, error) {
	a, b := in[0], in[1]
	switch op {
	case fhe.OpSelect:
		if a.typ != fhe.EBool || in[1].typ != in[2].typ {
			return 0, nil, fhe.ErrTypeMismatch
		}
		if a.value.IsZero() {
			return in[2].typ, new(uint256.Int).Set(in[2].value), nil
		}
		return in[1].typ, new(uint256.Int).Set(in[1].value), nil
	case fhe.OpShr:
		if a.typ != fhe.EUint64 {
			return 0, nil, fhe.ErrTypeMismatch
		}
		return a.typ, shr(a.value, b.value), nil
	}
	if a.typ != b.typ {
		return 0, nil, fhe.ErrTypeMismatch
	}
	switch op {
	case fhe.OpAdd:
		if a.typ != fhe.EUint64 {
			return 0, nil, fhe.ErrTypeMismatch
		}
		return a.typ, new(uint256.Int).Add(a.value, b.value), nil
	case fhe.OpSub:
		if a.typ != fhe.EUint64 {
			return 0, nil, fhe.ErrTypeMismatch
		}
		return a.typ, new(uint256.Int).Sub(a.value, b.value), nil
	case fhe.OpMul:
		if a.typ != fhe.EUint64 {
			return 0, nil, fhe.ErrTypeMismatch
		}
		return a.typ, new(uint256.Int).Mul(a.value, b.value), nil
	case fhe.OpEq:
		return fhe.EBool, boolValue(a.value.Eq(b.value)), nil
	case fhe.OpAnd:
		if a.typ == fhe.EAddress {
			return 0, nil, fhe.ErrTypeMismatch
		}
		return a.typ, new(uint256.Int).And(a.value, b.value), nil
	case fhe.OpGte:
		if a.typ != fhe.EUint64 {
			return 0, nil, fhe.ErrTypeMismatch
		}
		return fhe.EBool, boolValue(!a.value.Lt(b.value)), nil
	}
	return 0, nil, fhe.ErrUnsupportedOp
}

func shr(v, n *uint256.Int) *uint256.Int {
	if !n.IsUint64() || n.Uint64() >= 256 {
		return new(uint256.Int)
	}
	return new(uint256.Int).Rsh(v, uint(n.Uint64()))
}

func boolValue(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

func (c *Coprocessor) OpScalar(_ context.Context, op fhe.OpCode, h fhe.Handle, scalar uint64) (out fhe.Handle, err error) {
	defer func() { c.metrics.RecordOp(op.String()+"_scalar", err) }()
	if !op.ScalarCapable() {
		return fhe.Handle{}, fmt.Errorf("%w: %s has no scalar form", fhe.ErrUnsupportedOp, op)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.values[h]
	if !ok {
		return fhe.Handle{}, fhe.ErrUnknownHandle
	}
	if ct.typ != fhe.EUint64 {
		return fhe.Handle{}, fhe.ErrTypeMismatch
	}
	s := uint256.NewInt(scalar)
	var value *uint256.Int
	switch op {
	case fhe.OpAdd:
		value = new(uint256.Int).Add(ct.value, s)
	case fhe.OpSub:
		value = new(uint256.Int).Sub(ct.value, s)
	case fhe.OpMul:
		value = new(uint256.Int).Mul(ct.value, s)
	case fhe.OpShr:
		value = shr(ct.value, s)
	}
	var sbuf [8]byte
	binary.BigEndian.PutUint64(sbuf[:], scalar)
	return c.store(ct.typ, value, byte(op)|0x80, h[:], sbuf[:]), nil
}

func (c *Coprocessor) Constant(_ context.Context, t fhe.Type, value *big.Int) (fhe.Handle, error) {
	v, err := toUint(t, value)
	if err != nil {
		return fhe.Handle{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(t, v, 0xC0, []byte{byte(t)}), nil
}

func (c *Coprocessor) grantLocked(h fhe.Handle, principal crypto.Address) {
	set, ok := c.acl[h]
	if !ok {
		set = make(map[crypto.Address]struct{})
		c.acl[h] = set
	}
	set[principal] = struct{}{}
}

func (c *Coprocessor) Grant(_ context.Context, h fhe.Handle, principal crypto.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[h]; !ok {
		return fhe.ErrUnknownHandle
	}
	c.grantLocked(h, principal)
	return nil
}

// HasAccess reports whether principal holds a grant on h.
func (c *Coprocessor) HasAccess(h fhe.Handle, principal crypto.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.acl[h][principal]
	return ok
}

func (c *Coprocessor) limiter(requester crypto.Address) *rate.Limiter {
	c.limitMu.Lock()
	defer c.limitMu.Unlock()
	lim, ok := c.limiters[requester]
	if !ok {
		lim = rate.NewLimiter(c.rate, c.burst)
		c.limiters[requester] = lim
	}
	return lim
}

func (c *Coprocessor) RequestDecryption(_ context.Context, h fhe.Handle, requester crypto.Address) (fhe.RequestID, error) {
	c.mu.Lock()
	if _, ok := c.values[h]; !ok {
		c.mu.Unlock()
		return "", fhe.ErrUnknownHandle
	}
	if _, ok := c.acl[h][requester]; !ok {
		c.mu.Unlock()
		c.metrics.RecordDecryption("denied")
		return "", fhe.ErrAccessDenied
	}
	c.mu.Unlock()

	if !c.limiter(requester).Allow() {
		c.metrics.RecordDecryption("throttled")
		observability.ModuleMetrics().RecordThrottle("fhe", "decrypt_rate")
		return "", fhe.ErrThrottled
	}

	req := &request{id: fhe.RequestID(uuid.NewString()), handle: h, created: time.Now()}
	c.mu.Lock()
	c.requests[req.id] = req
	c.mu.Unlock()
	select {
	case c.pending <- req:
	default:
		c.mu.Lock()
		delete(c.requests, req.id)
		c.mu.Unlock()
		return "", errQueueFull
	}
	c.metrics.RecordDecryption("requested")
	c.metrics.SetQueueDepth(len(c.pending))
	return req.id, nil
}

func (c *Coprocessor) PollDecryption(_ context.Context, id fhe.RequestID) (*big.Int, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	req, ok := c.requests[id]
	if !ok {
		return nil, false, fhe.ErrRequestNotFound
	}
	if !req.ready {
		return nil, false, nil
	}
	if req.value == nil {
		return nil, true, fhe.ErrUnknownHandle
	}
	return new(big.Int).Set(req.value), true, nil
}

// Reveal returns the plaintext behind h without any access check. It exists
// for tests and operator tooling only.
func (c *Coprocessor) Reveal(h fhe.Handle) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ct, ok := c.values[h]
	if !ok {
		return nil, false
	}
	return ct.value.ToBig(), true
}

var _ fhe.Coprocessor = (*Coprocessor)(nil)
