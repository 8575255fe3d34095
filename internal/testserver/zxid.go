package testserver

// zxid packs a transaction id into the epoch/counter pair real
// ZooKeeper uses: the high 32 bits identify which leader term produced
// the change, the low 32 bits are a per-term sequence number. This
// fixture only ever runs one term, so epoch stays fixed at 1 and only
// the counter advances, but the layout matches what a client would see
// from a real ensemble.
type zxid int64

func newZxid(epoch, counter int32) zxid {
	return zxid(int64(epoch)<<32 | int64(uint32(counter)))
}

func (z zxid) epoch() int32 {
	return int32(z >> 32)
}

func (z zxid) counter() int32 {
	return int32(z)
}

func (z zxid) next() zxid {
	return newZxid(z.epoch(), z.counter()+1)
}
