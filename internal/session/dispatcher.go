package session

import "errors"

// dispatch forwards sub's payloads to its sink, FIFO, until next is closed.
//
// A sink or serialization failure is fatal to this session only: the key is
// dropped and the remaining payloads are drained without delivery. Every
// delivery runs under the subscription lock and is skipped once the
// subscription is closed.
func (m *Manager) dispatch(key Key, sub *Subscription) {
	defer m.wg.Done()

	for payload := range sub.Next() {
		var failure error
		_, err := sub.deliver(func() error {
			data, err := encodeNext(key, payload)
			if err != nil {
				failure = err
				return err
			}
			if err := sub.sink.Emit(m.ctx, EventNext, data); err != nil {
				failure = err
				return err
			}
			return nil
		})
		if err == nil {
			continue
		}

		reason := "sink failure"
		if errors.Is(failure, ErrSerialization) {
			reason = "serialization failure"
		}
		m.log.Warn("session delivery failed", "key", key, "reason", reason, "error", err)
		m.drop(key, reason)
	}

	// A closed subscription was already removed by whoever closed it.
	if !sub.Closed() {
		m.drop(key, "completed")
	}
}
