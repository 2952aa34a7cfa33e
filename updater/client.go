package updater

// StateClient streams state changes. States is closed when the client is
// cancelled or the manager stops. A client that does not keep up misses
// states instead of stalling other observers.
type StateClient struct {
	States  <-chan State
	Id      uint32
	states  chan State
	manager *Manager
}

const clientBuffer = 64

// Subscribe registers a new client for state changes.
func (m *Manager) Subscribe() *StateClient {
	states := make(chan State, clientBuffer)

	client := &StateClient{
		States:  states,
		states:  states,
		manager: m,
	}

	m.clientMtx.Lock()
	defer m.clientMtx.Unlock()

	client.Id = m.nextClientID
	m.nextClientID++

	if m.clients == nil {
		// manager already stopped
		close(states)
		return client
	}

	m.clients[client.Id] = client

	return client
}

func (c *StateClient) Cancel() {
	c.manager.unsubscribe(c)
}

func (m *Manager) unsubscribe(client *StateClient) {
	m.clientMtx.Lock()
	defer m.clientMtx.Unlock()

	if _, ok := m.clients[client.Id]; !ok {
		return
	}

	delete(m.clients, client.Id)
	close(client.states)
}

func (m *Manager) broadcast(state State) {
	m.clientMtx.Lock()
	defer m.clientMtx.Unlock()

	for id, client := range m.clients {
		select {
		case client.states <- state:
		default:
			m.log.Warnf("Dropped state %v for slow client %v", state.Name(), id)
		}
	}
}

func (m *Manager) closeClients() {
	m.clientMtx.Lock()
	defer m.clientMtx.Unlock()

	for _, client := range m.clients {
		close(client.states)
	}

	m.clients = nil
}
