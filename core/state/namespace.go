package state

// Namespace confines a Manager to keys carrying a fixed prefix. Fallback
// implementations receive one so they cannot touch chain-owned keys.
type Namespace struct {
	m      *Manager
	prefix []byte
}

// NewNamespace returns a view of m restricted to prefix.
func NewNamespace(m *Manager, prefix string) *Namespace {
	return &Namespace{m: m, prefix: []byte("ns/" + prefix + "/")}
}

func (n *Namespace) key(k []byte) []byte {
	out := make([]byte, 0, len(n.prefix)+len(k))
	out = append(out, n.prefix...)
	return append(out, k...)
}

func (n *Namespace) KVGet(key []byte, out interface{}) (bool, error) {
	return n.m.KVGet(n.key(key), out)
}

func (n *Namespace) KVPut(key []byte, value interface{}) error {
	return n.m.KVPut(n.key(key), value)
}

func (n *Namespace) KVDelete(key []byte) error {
	return n.m.KVDelete(n.key(key))
}
