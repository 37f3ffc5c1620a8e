package speech

import (
	"errors"
	"sync"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
)

var errConnectionExists = errors.New("connection id already in use")

// ConnectionStats WebSocket 连接统计
type ConnectionStats struct {
	ActiveConnections int `json:"active_connections"`
	ActiveSessions    int `json:"active_sessions"`
}

// ConnectionRegistry 记录在线连接以及会话与连接的绑定关系。
// 一个连接最多绑定一个会话，一个会话最多被一个连接绑定。
type ConnectionRegistry struct {
	mu          sync.RWMutex
	connections map[string]func()
	sessions    map[string]string // session_id -> connection_id
	bound       map[string]string // connection_id -> session_id
}

// NewConnectionRegistry 创建空的连接表
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[string]func()),
		sessions:    make(map[string]string),
		bound:       make(map[string]string),
	}
}

// Add 登记连接；closeFn 在 CloseAll 时调用。
func (r *ConnectionRegistry) Add(id string, closeFn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.connections[id]; ok {
		return errConnectionExists
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	r.connections[id] = closeFn
	return nil
}

// Contains 报告连接 id 是否在线
func (r *ConnectionRegistry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[id]
	return ok
}

// Remove 注销连接并释放其会话绑定，可重复调用。
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, id)
	if sessionID, ok := r.bound[id]; ok {
		delete(r.sessions, sessionID)
		delete(r.bound, id)
	}
}

// Bind 把会话绑定到连接。连接之前绑定的会话会被释放；
// 会话已被其他连接持有时返回 SessionInUse。
func (r *ConnectionRegistry) Bind(connectionID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionID]; !ok {
		return apperror.InvalidRequest(apperror.CodeInvalidRequest, "connection is not registered")
	}
	if owner, ok := r.sessions[sessionID]; ok && owner != connectionID {
		return apperror.New(apperror.KindSessionInUse, apperror.CodeSessionInUse,
			"session is bound to another connection")
	}
	if prev, ok := r.bound[connectionID]; ok && prev != sessionID {
		delete(r.sessions, prev)
	}
	r.sessions[sessionID] = connectionID
	r.bound[connectionID] = sessionID
	return nil
}

// ConnectionForSession 查询会话当前绑定的连接
func (r *ConnectionRegistry) ConnectionForSession(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.sessions[sessionID]
	return id, ok
}

// Stats 返回当前连接数与已绑定会话数
func (r *ConnectionRegistry) Stats() ConnectionStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ConnectionStats{
		ActiveConnections: len(r.connections),
		ActiveSessions:    len(r.sessions),
	}
}

// CloseAll 关闭全部连接，服务退出时调用。
// 各连接自己的清理逻辑负责 Remove。
func (r *ConnectionRegistry) CloseAll() {
	r.mu.RLock()
	closers := make([]func(), 0, len(r.connections))
	for _, fn := range r.connections {
		closers = append(closers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range closers {
		fn()
	}
}
