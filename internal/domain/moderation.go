package domain

// Denylist is the moderation exclusion set: whole instances and individual
// channels. Built from the metadata store and replaced wholesale; lookups
// are read-only.
type Denylist struct {
	hosts    map[string]struct{}
	channels map[string]struct{}
}

// NewDenylist builds a denylist from instance hosts and "name@host" channel
// keys.
func NewDenylist(hosts []string, channelKeys []string) *Denylist {
	d := &Denylist{
		hosts:    make(map[string]struct{}, len(hosts)),
		channels: make(map[string]struct{}, len(channelKeys)),
	}
	for _, h := range hosts {
		d.hosts[NormalizeHost(h)] = struct{}{}
	}
	for _, c := range channelKeys {
		d.channels[c] = struct{}{}
	}
	return d
}

// Denied reports whether a video from the given instance/channel is
// excluded. A nil denylist denies nothing.
func (d *Denylist) Denied(host, authorKey string) bool {
	if d == nil {
		return false
	}
	if _, ok := d.hosts[NormalizeHost(host)]; ok {
		return true
	}
	_, ok := d.channels[authorKey]
	return ok
}

// Len reports the number of denied entries.
func (d *Denylist) Len() int {
	if d == nil {
		return 0
	}
	return len(d.hosts) + len(d.channels)
}
