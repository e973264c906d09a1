// Package feedtest is an in-process position provider speaking the same
// REST and push protocol as the real one. Tests drive it directly; the
// feed-sim command serves it on a real port.
package feedtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionCookie is the name of the provider session cookie.
const SessionCookie = "JSESSIONID"

// Device is a provider device as served on /api/devices.
type Device struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	UniqueID string `json:"uniqueId"`
}

// Position is a provider position as served on /api/positions and pushed
// over the socket.
type Position struct {
	DeviceID   int     `json:"deviceId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	FixTime    string  `json:"fixTime,omitempty"`
	DeviceTime string  `json:"deviceTime,omitempty"`
}

// Provider is a fake position provider. All methods are safe for concurrent use.
type Provider struct {
	email    string
	password string
	upgrader websocket.Upgrader

	mu            sync.Mutex
	sessions      map[string]struct{}
	devices       []Device
	nextID        int
	latest        map[int]Position
	conns         map[*websocket.Conn]*sync.Mutex
	dials         int
	createCalls   int
	rejectSockets int
	failPositions bool
	raceCreate    bool
	server        *httptest.Server
}

// NewProvider returns a provider accepting the given service credentials.
func NewProvider(email, password string) *Provider {
	return &Provider{
		email:    email,
		password: password,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions: make(map[string]struct{}),
		nextID:   1,
		latest:   make(map[int]Position),
		conns:    make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Start serves the provider on a loopback httptest server and returns its URL.
func (p *Provider) Start() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.server == nil {
		p.server = httptest.NewServer(p.Handler())
	}
	return p.server.URL
}

// Close drops every socket and stops the test server if one was started.
func (p *Provider) Close() {
	p.DropConnections()
	p.mu.Lock()
	srv := p.server
	p.server = nil
	p.mu.Unlock()
	if srv != nil {
		srv.Close()
	}
}

// Handler returns the provider's HTTP routes.
func (p *Provider) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", p.handleSession)
	mux.HandleFunc("GET /api/devices", p.handleListDevices)
	mux.HandleFunc("POST /api/devices", p.handleCreateDevice)
	mux.HandleFunc("GET /api/positions", p.handlePositions)
	mux.HandleFunc("GET /api/socket", p.handleSocket)
	return mux
}

// AddDevice registers a device as if another client had created it.
func (p *Provider) AddDevice(name, uniqueID string) Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addDeviceLocked(name, uniqueID)
}

func (p *Provider) addDeviceLocked(name, uniqueID string) Device {
	d := Device{ID: p.nextID, Name: name, UniqueID: uniqueID}
	p.nextID++
	p.devices = append(p.devices, d)
	return d
}

// Devices returns a copy of the registered devices.
func (p *Provider) Devices() []Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Device(nil), p.devices...)
}

// CreateCalls counts POST /api/devices requests, successful or not.
func (p *Provider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// Dials counts socket upgrade attempts, including rejected ones.
func (p *Provider) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

// Connections returns the number of open sockets.
func (p *Provider) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// WaitForConnections blocks until n sockets are open or timeout elapses.
func (p *Provider) WaitForConnections(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Connections() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return p.Connections() >= n
}

// RejectSockets makes the next n upgrade attempts fail with 503. A negative
// n rejects every attempt until reset with 0.
func (p *Provider) RejectSockets(n int) {
	p.mu.Lock()
	p.rejectSockets = n
	p.mu.Unlock()
}

// FailPositions makes /api/positions answer 500 while on.
func (p *Provider) FailPositions(on bool) {
	p.mu.Lock()
	p.failPositions = on
	p.mu.Unlock()
}

// RaceCreate makes the next device create lose a race: the device is
// stored, but the caller gets the duplicate uniqueId rejection.
func (p *Provider) RaceCreate(on bool) {
	p.mu.Lock()
	p.raceCreate = on
	p.mu.Unlock()
}

// Move records a fix for deviceID and pushes it to every open socket.
func (p *Provider) Move(deviceID int, lat, lon float64, at time.Time) {
	pos := Position{DeviceID: deviceID, Latitude: lat, Longitude: lon, FixTime: at.UTC().Format(time.RFC3339Nano)}
	p.mu.Lock()
	p.latest[deviceID] = pos
	p.mu.Unlock()
	p.Push(pos)
}

// Push sends a positions frame without touching the polled state.
func (p *Provider) Push(positions ...Position) {
	b, err := json.Marshal(map[string]any{"positions": positions})
	if err != nil {
		return
	}
	p.Broadcast(b)
}

// Broadcast writes a raw frame to every open socket.
func (p *Provider) Broadcast(frame []byte) {
	p.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(p.conns))
	for c, wmu := range p.conns {
		targets[c] = wmu
	}
	p.mu.Unlock()

	for c, wmu := range targets {
		wmu.Lock()
		_ = c.WriteMessage(websocket.TextMessage, frame)
		wmu.Unlock()
	}
}

// DropConnections closes every open socket from the server side.
func (p *Provider) DropConnections() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[*websocket.Conn]*sync.Mutex)
	p.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

func (p *Provider) handleSession(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("email") != p.email || r.PostForm.Get("password") != p.password {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	p.mu.Lock()
	p.sessions[token] = struct{}{}
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/", HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]any{"id": 1, "name": "service", "email": p.email})
}

func (p *Provider) authorized(r *http.Request) bool {
	if user, pass, ok := r.BasicAuth(); ok {
		return user == p.email && pass == p.password
	}
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[c.Value]
	return ok
}

func (p *Provider) handleListDevices(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, p.Devices())
}

func (p *Provider) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var in Device
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.UniqueID == "" {
		http.Error(w, "invalid device", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.raceCreate {
		p.raceCreate = false
		p.addDeviceLocked(in.Name, in.UniqueID)
	}
	for _, d := range p.devices {
		if d.UniqueID == in.UniqueID {
			http.Error(w, duplicateMessage(in.UniqueID), http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, http.StatusOK, p.addDeviceLocked(in.Name, in.UniqueID))
}

func duplicateMessage(uniqueID string) string {
	return fmt.Sprintf("Duplicate entry '%s' for key 'uniqueId' - SQLIntegrityConstraintViolationException", uniqueID)
}

func (p *Provider) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !p.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	p.mu.Lock()
	fail := p.failPositions
	filter := make(map[int]bool)
	for _, s := range r.URL.Query()["deviceId"] {
		if id, err := strconv.Atoi(s); err == nil {
			filter[id] = true
		}
	}
	out := make([]Position, 0, len(p.latest))
	for _, d := range p.devices {
		pos, ok := p.latest[d.ID]
		if !ok || (len(filter) > 0 && !filter[d.ID]) {
			continue
		}
		out = append(out, pos)
	}
	p.mu.Unlock()

	if fail {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Provider) handleSocket(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.dials++
	reject := p.rejectSockets != 0
	if p.rejectSockets > 0 {
		p.rejectSockets--
	}
	p.mu.Unlock()

	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if !p.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conns[conn] = &sync.Mutex{}
	p.mu.Unlock()

	// Drain client frames until the socket closes.
	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.conns, conn)
			p.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
