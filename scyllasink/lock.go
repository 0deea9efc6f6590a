package scyllasink

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// ProducerLock is the handle returned by AcquireLock; it must be released
// with Release once the sink is done writing as this producer.
type ProducerLock struct {
	session    *gocql.Session
	producerId ProducerId
	lockId     string
}

// LockId is the fresh random UUID generated per lock attempt.
func (l *ProducerLock) LockId() string { return l.lockId }

// resolveInterface finds the (ifname, ipv4) pair to record in the lock row.
// If ifname is non-nil, that interface must exist and own an IPv4 address.
// Otherwise the host's primary local IPv4 interface is used. An IPv6-only
// host, or a named interface with no IPv4 address, is ErrNoInterface.
func resolveInterface(ifname *string) (name string, ipv4 string, err error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", fmt.Errorf("scyllasink: listing network interfaces: %w", err)
	}

	ipv4For := func(iface net.Interface) (string, bool) {
		addrs, err := iface.Addrs()
		if err != nil {
			return "", false
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String(), true
			}
		}
		return "", false
	}

	if ifname != nil {
		for _, iface := range ifaces {
			if iface.Name != *ifname {
				continue
			}
			if ip, ok := ipv4For(iface); ok {
				return iface.Name, ip, nil
			}
			return "", "", fmt.Errorf("%w: interface %q has no IPv4 address", ErrNoInterface, *ifname)
		}
		return "", "", fmt.Errorf("%w: no interface named %q", ErrNoInterface, *ifname)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if ip, ok := ipv4For(iface); ok {
			return iface.Name, ip, nil
		}
	}
	return "", "", fmt.Errorf("%w: host has no up, non-loopback IPv4 interface", ErrNoInterface)
}

// AcquireLock resolves a local IPv4 interface, generates a fresh LockId, and
// executes a conditional insert ("insert if not exists") for producerID.
func AcquireLock(ctx context.Context, session *gocql.Session, producerID ProducerId, ifname *string) (*ProducerLock, error) {
	name, ipv4, err := resolveInterface(ifname)
	if err != nil {
		return nil, err
	}

	lockID := uuid.NewString()

	var (
		appliedProducerId []byte
		existingLockId    string
		existingIfname    string
		existingIpv4      string
		existingCreatedAt time.Time
	)
	applied, err := session.Query(queryTryAcquireProducerLock,
		producerID[:], lockID, name, ipv4,
	).WithContext(ctx).ScanCAS(&appliedProducerId, &existingLockId, &existingIfname, &existingIpv4, &existingCreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scyllasink: acquiring producer lock: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: producer %s", ErrAlreadyLocked, producerID)
	}

	return &ProducerLock{session: session, producerId: producerID, lockId: lockID}, nil
}

// Release deletes the lock row if, and only if, lock_id still matches.
// Idempotent and best-effort: a second call observes the row already gone
// and the conditional delete simply fails to apply, which is not an error.
func (l *ProducerLock) Release(ctx context.Context) error {
	// The IF clause here names only lock_id, so on a failed CAS Cassandra
	// returns just [applied, lock_id] - not the full row (that fuller
	// form only applies to IF NOT EXISTS, see AcquireLock).
	var existingLockId string
	_, err := l.session.Query(queryDropProducerLock, l.producerId[:], l.lockId).
		WithContext(ctx).ScanCAS(&existingLockId)
	if err != nil {
		return fmt.Errorf("scyllasink: releasing producer lock: %w", err)
	}
	return nil
}
