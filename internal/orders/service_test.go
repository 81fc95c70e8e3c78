package orders

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	products map[int64]Product
	orders   []Order
	nextID   int64
	failList error
}

func newMemStore(products ...Product) *memStore {
	m := &memStore{products: map[int64]Product{}}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStore) PlaceOrder(ctx context.Context, in NewOrder) (Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[in.ProductID]
	if !ok {
		return Placement{}, ErrProductNotFound
	}
	if p.Stock < in.Quantity {
		return Placement{}, ErrInsufficientStock
	}
	p.Stock -= in.Quantity
	m.products[p.ID] = p

	m.nextID++
	o := Order{
		ID:              m.nextID,
		ProductID:       in.ProductID,
		CustomerName:    in.CustomerName,
		CustomerAddress: in.CustomerAddress,
		CustomerPhone:   in.CustomerPhone,
		Quantity:        in.Quantity,
		CreatedAt:       time.Now().UTC(),
	}
	m.orders = append(m.orders, o)
	return Placement{Order: o, RemainingStock: p.Stock}, nil
}

func (m *memStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return Order{}, ErrOrderNotFound
}

func (m *memStore) ListOrders(ctx context.Context) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList != nil {
		return nil, m.failList
	}
	return append([]Order{}, m.orders...), nil
}

func (m *memStore) CreateProduct(ctx context.Context, in NewProduct) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Product{ID: int64(len(m.products) + 1), Name: in.Name, Price: in.Price, Stock: in.Stock}
	m.products[p.ID] = p
	return p, nil
}

func (m *memStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (m *memStore) ListProducts(ctx context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for id := int64(1); id <= int64(len(m.products)); id++ {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type published struct {
	key       string
	eventType string
	value     []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) PublishEvent(key []byte, eventType string, value []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{key: string(key), eventType: eventType, value: value})
}

type idemEntry struct {
	fingerprint string
	orderID     int64
}

// memIdempotency claims keys atomically, like SETNX.
type memIdempotency struct {
	mu       sync.Mutex
	keys     map[string]idemEntry
	claimErr error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: map[string]idemEntry{}}
}

func (m *memIdempotency) Claim(ctx context.Context, key, fingerprint string) (IdempotencyClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return IdempotencyClaim{}, m.claimErr
	}
	if e, ok := m.keys[key]; ok {
		return IdempotencyClaim{Fingerprint: e.fingerprint, OrderID: e.orderID}, nil
	}
	m.keys[key] = idemEntry{fingerprint: fingerprint}
	return IdempotencyClaim{Owned: true, Fingerprint: fingerprint}, nil
}

func (m *memIdempotency) Complete(ctx context.Context, key, fingerprint string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = idemEntry{fingerprint: fingerprint, orderID: orderID}
	return nil
}

func (m *memIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// slowStore holds PlaceOrder open long enough for concurrent callers to overlap.
type slowStore struct {
	*memStore
	delay time.Duration
}

func (s *slowStore) PlaceOrder(ctx context.Context, in NewOrder) (Placement, error) {
	time.Sleep(s.delay)
	return s.memStore.PlaceOrder(ctx, in)
}

func validOrder(productID int64, qty int) NewOrder {
	return NewOrder{
		ProductID:       productID,
		CustomerName:    "Ana Pérez",
		CustomerAddress: "Calle 1 #23",
		CustomerPhone:   "+57 300 000 0000",
		Quantity:        qty,
	}
}

func stockOf(t *testing.T, s *memStore, id int64) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCreateOrder_Scenario(t *testing.T) {
	store := newMemStore(Product{ID: 1, Name: "Café", Price: decimal.RequireFromString("12.50"), Stock: 10})
	svc := &Service{Store: store}
	ctx := context.Background()

	o, replayed, err := svc.CreateOrder(ctx, validOrder(1, 3), CreateOptions{})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 3, o.Quantity)
	assert.NotZero(t, o.ID)
	assert.Equal(t, 7, stockOf(t, store, 1))

	_, _, err = svc.CreateOrder(ctx, validOrder(1, 8), CreateOptions{})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 7, stockOf(t, store, 1))

	_, _, err = svc.CreateOrder(ctx, validOrder(99, 1), CreateOptions{})
	assert.ErrorIs(t, err, ErrProductNotFound)

	all, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateOrder_ReturnsInputFields(t *testing.T) {
	store := newMemStore(Product{ID: 4, Stock: 5})
	svc := &Service{Store: store}

	in := validOrder(4, 5)
	o, _, err := svc.CreateOrder(context.Background(), in, CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, in.ProductID, o.ProductID)
	assert.Equal(t, in.CustomerName, o.CustomerName)
	assert.Equal(t, in.CustomerAddress, o.CustomerAddress)
	assert.Equal(t, in.CustomerPhone, o.CustomerPhone)
	assert.Equal(t, in.Quantity, o.Quantity)
	assert.Equal(t, 0, stockOf(t, store, 4))
}

func TestCreateOrder_FailuresDoNotMutate(t *testing.T) {
	tests := []struct {
		name    string
		in      NewOrder
		wantErr error
	}{
		{name: "unknown product", in: validOrder(42, 1), wantErr: ErrProductNotFound},
		{name: "too many", in: validOrder(1, 3), wantErr: ErrInsufficientStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(Product{ID: 1, Stock: 2})
			pub := &recordingPublisher{}
			svc := &Service{Store: store, Events: pub}

			_, _, err := svc.CreateOrder(context.Background(), tt.in, CreateOptions{})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 2, stockOf(t, store, 1))
			assert.Empty(t, store.orders)
			assert.Empty(t, pub.events)
		})
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*NewOrder)
		field string
	}{
		{name: "zero product", edit: func(o *NewOrder) { o.ProductID = 0 }, field: "product_id"},
		{name: "blank name", edit: func(o *NewOrder) { o.CustomerName = "   " }, field: "customer_name"},
		{name: "empty address", edit: func(o *NewOrder) { o.CustomerAddress = "" }, field: "customer_address"},
		{name: "empty phone", edit: func(o *NewOrder) { o.CustomerPhone = "" }, field: "customer_phone"},
		{name: "zero quantity", edit: func(o *NewOrder) { o.Quantity = 0 }, field: "quantity"},
		{name: "negative quantity", edit: func(o *NewOrder) { o.Quantity = -2 }, field: "quantity"},
		{name: "quantity overflows column", edit: func(o *NewOrder) { o.Quantity = math.MaxInt32 + 1 }, field: "quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(Product{ID: 1, Stock: 10})
			svc := &Service{Store: store}

			in := validOrder(1, 1)
			tt.edit(&in)
			_, _, err := svc.CreateOrder(context.Background(), in, CreateOptions{})

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, 10, stockOf(t, store, 1))
		})
	}
}

func TestCreateOrder_TrimsCustomerFields(t *testing.T) {
	svc := &Service{Store: newMemStore(Product{ID: 1, Stock: 1})}

	in := validOrder(1, 1)
	in.CustomerName = "  Luis  "
	o, _, err := svc.CreateOrder(context.Background(), in, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Luis", o.CustomerName)
}

func TestListOrders_InsertionOrderAndStable(t *testing.T) {
	svc := &Service{Store: newMemStore(Product{ID: 1, Stock: 10}, Product{ID: 2, Stock: 10})}
	ctx := context.Background()

	a, _, err := svc.CreateOrder(ctx, validOrder(2, 1), CreateOptions{})
	require.NoError(t, err)
	b, _, err := svc.CreateOrder(ctx, validOrder(1, 1), CreateOptions{})
	require.NoError(t, err)

	first, err := svc.ListOrders(ctx)
	require.NoError(t, err)
	second, err := svc.ListOrders(ctx)
	require.NoError(t, err)

	assert.Equal(t, []Order{a, b}, first)
	assert.Equal(t, first, second)
}

func TestListOrders_PropagatesStorageFault(t *testing.T) {
	store := newMemStore()
	store.failList = errors.New("connection reset")
	svc := &Service{Store: store}

	_, err := svc.ListOrders(context.Background())
	assert.EqualError(t, err, "connection reset")
}

func TestCreateOrder_PublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc := &Service{Store: newMemStore(Product{ID: 7, Stock: 4}), Events: pub, ServiceName: "store-api"}

	o, _, err := svc.CreateOrder(context.Background(), validOrder(7, 3), CreateOptions{TraceID: "req-1"})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	ev := pub.events[0]
	assert.Equal(t, "7", ev.key)
	assert.Equal(t, EventOrderCreated, ev.eventType)

	var env Envelope
	require.NoError(t, json.Unmarshal(ev.value, &env))
	assert.Equal(t, EventOrderCreated, env.EventType)
	assert.Equal(t, "store-api", env.Producer)
	assert.Equal(t, "req-1", env.TraceID)
	assert.NotEmpty(t, env.EventID)

	var p OrderCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, o.ID, p.OrderID)
	assert.Equal(t, int64(7), p.ProductID)
	assert.Equal(t, 3, p.Quantity)
	assert.Equal(t, 1, p.RemainingStock)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 10})
	pub := &recordingPublisher{}
	svc := &Service{
		Store:       store,
		Events:      pub,
		Idempotency: newMemIdempotency(),
	}
	ctx := context.Background()
	opts := CreateOptions{IdempotencyKey: "checkout-123"}

	first, replayed, err := svc.CreateOrder(ctx, validOrder(1, 2), opts)
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := svc.CreateOrder(ctx, validOrder(1, 2), opts)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first, second)

	assert.Equal(t, 8, stockOf(t, store, 1))
	assert.Len(t, store.orders, 1)
	assert.Len(t, pub.events, 1)
}

func TestCreateOrder_IdempotencyKeyReusedForOtherOrder(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 10})
	svc := &Service{Store: store, Idempotency: newMemIdempotency()}
	ctx := context.Background()
	opts := CreateOptions{IdempotencyKey: "checkout-123"}

	_, _, err := svc.CreateOrder(ctx, validOrder(1, 2), opts)
	require.NoError(t, err)

	_, replayed, err := svc.CreateOrder(ctx, validOrder(1, 5), opts)
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	assert.False(t, replayed)
	assert.Equal(t, 8, stockOf(t, store, 1))
	assert.Len(t, store.orders, 1)
}

func TestCreateOrder_IdempotencyKeyIgnoresWhitespace(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 10})
	svc := &Service{Store: store, Idempotency: newMemIdempotency()}
	ctx := context.Background()
	opts := CreateOptions{IdempotencyKey: "k"}

	_, _, err := svc.CreateOrder(ctx, validOrder(1, 1), opts)
	require.NoError(t, err)

	padded := validOrder(1, 1)
	padded.CustomerName = "  " + padded.CustomerName + " "
	_, replayed, err := svc.CreateOrder(ctx, padded, opts)
	require.NoError(t, err)
	assert.True(t, replayed)
}

func TestCreateOrder_ConcurrentSameIdempotencyKey(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 10})
	svc := &Service{
		Store:       &slowStore{memStore: store, delay: 5 * time.Millisecond},
		Idempotency: newMemIdempotency(),
	}
	opts := CreateOptions{IdempotencyKey: "checkout-1"}

	type result struct {
		replayed bool
		err      error
	}
	results := make(chan result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, replayed, err := svc.CreateOrder(context.Background(), validOrder(1, 3), opts)
			results <- result{replayed: replayed, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var created int
	for r := range results {
		switch {
		case r.err == nil && !r.replayed:
			created++
		case r.err == nil:
		default:
			assert.ErrorIs(t, r.err, ErrIdempotencyInProgress)
		}
	}
	assert.Equal(t, 1, created)
	assert.Len(t, store.orders, 1)
	assert.Equal(t, 7, stockOf(t, store, 1))
}

func TestCreateOrder_FailedOrderReleasesIdempotencyKey(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 2})
	idem := newMemIdempotency()
	svc := &Service{Store: store, Idempotency: idem}
	ctx := context.Background()
	opts := CreateOptions{IdempotencyKey: "retry-me"}

	_, _, err := svc.CreateOrder(ctx, validOrder(1, 3), opts)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Empty(t, idem.keys)

	store.products[1] = Product{ID: 1, Stock: 5}
	o, replayed, err := svc.CreateOrder(ctx, validOrder(1, 3), opts)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, idemEntry{fingerprint: validOrder(1, 3).Fingerprint(), orderID: o.ID}, idem.keys["retry-me"])
}

func TestCreateOrder_IdempotencyClaimFailureFallsThrough(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 10})
	idem := newMemIdempotency()
	idem.claimErr = errors.New("redis down")
	svc := &Service{Store: store, Idempotency: idem}

	_, replayed, err := svc.CreateOrder(context.Background(), validOrder(1, 1), CreateOptions{IdempotencyKey: "k"})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 9, stockOf(t, store, 1))
	assert.Empty(t, idem.keys)
}

func TestCreateOrder_ConcurrentNeverOversells(t *testing.T) {
	store := newMemStore(Product{ID: 1, Stock: 10})
	svc := &Service{Store: store}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = svc.CreateOrder(context.Background(), validOrder(1, 1), CreateOptions{})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, stockOf(t, store, 1))
	assert.Len(t, store.orders, 10)
}

func TestCreateProduct(t *testing.T) {
	svc := &Service{Store: newMemStore()}
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, NewProduct{Name: " Té verde ", Price: decimal.RequireFromString("4.20"), Stock: 3})
	require.NoError(t, err)
	assert.Equal(t, "Té verde", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("4.2")))

	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = svc.CreateProduct(ctx, NewProduct{Name: "x", Price: decimal.NewFromInt(-1)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "price", verr.Field)

	_, err = svc.CreateProduct(ctx, NewProduct{Name: "x", Stock: -1})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "stock", verr.Field)
}

func TestCreateProduct_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    NewProduct
		field string
	}{
		{name: "three decimals", in: NewProduct{Name: "x", Price: decimal.RequireFromString("1.999")}, field: "price"},
		{name: "price too large", in: NewProduct{Name: "x", Price: decimal.RequireFromString("10000000000")}, field: "price"},
		{name: "stock overflows column", in: NewProduct{Name: "x", Stock: math.MaxInt32 + 1}, field: "stock"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			svc := &Service{Store: store}

			_, err := svc.CreateProduct(context.Background(), tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, store.products)
		})
	}
}

func TestCreateProduct_AcceptsColumnLimits(t *testing.T) {
	svc := &Service{Store: newMemStore()}

	p, err := svc.CreateProduct(context.Background(), NewProduct{
		Name:  "Caja",
		Price: decimal.RequireFromString("9999999999.99"),
		Stock: math.MaxInt32,
	})
	require.NoError(t, err)
	assert.Equal(t, "9999999999.99", p.Price.String())

	_, err = svc.CreateProduct(context.Background(), NewProduct{Name: "Pan", Price: decimal.RequireFromString("2.500")})
	assert.NoError(t, err)
}
