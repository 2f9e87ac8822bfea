package db

import (
	"context"
	"log"
	"time"

	"github.com/lib/pq"
)

// Listen delivers the payload of every notification on channel to onChange
// until ctx is done. A nil payload from the driver means the connection was
// re-established and notifications may have been lost; onChange then gets "".
func Listen(ctx context.Context, dsn, channel string, onChange func(payload string)) error {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("db listener event=%d error: %v", ev, err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return err
	}
	log.Printf("db listening channel=%s", channel)

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					onChange("")
					continue
				}
				onChange(n.Extra)
			case <-time.After(90 * time.Second):
				go func() {
					if err := listener.Ping(); err != nil {
						log.Printf("db listener ping failed: %v", err)
					}
				}()
			}
		}
	}()
	return nil
}
