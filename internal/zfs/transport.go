package zfs

import "strconv"

// Transport identifies where a replica's commands run. A zero value means
// the local machine; with a host set, every command is wrapped in ssh.
type Transport struct {
	Host         string
	Port         int
	IdentityFile string
}

// Remote reports whether commands are tunneled over ssh.
func (t Transport) Remote() bool { return t.Host != "" }

// wrap prepends the ssh invocation to argv when the transport is remote.
func (t Transport) wrap(argv []string) []string {
	if !t.Remote() {
		return argv
	}
	ssh := []string{"ssh"}
	if t.Port != 0 {
		ssh = append(ssh, "-p", strconv.Itoa(t.Port))
	}
	if t.IdentityFile != "" {
		ssh = append(ssh, "-i", t.IdentityFile)
	}
	ssh = append(ssh, t.Host)
	return append(ssh, argv...)
}

func (t Transport) String() string {
	if !t.Remote() {
		return "local"
	}
	if t.Port != 0 {
		return t.Host + ":" + strconv.Itoa(t.Port)
	}
	return t.Host
}
