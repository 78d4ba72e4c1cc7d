package subscribe

import (
	"fmt"

	"github.com/valyala/bytebufferpool"

	"github.com/twosigma/mbeat-core/endpoint"
	"github.com/twosigma/mbeat-core/util"
	"github.com/twosigma/mbeat-core/wire"
)

const csvHeader = "Key,SeqNum,SeqLen,McastAddr,McastPort,SrcTTL,DstTTL," +
	"PubIf,PubHost,SubIf,SubHost,WallDep,WallArr,MonoDep,MonoArr\n"

// notAvailable marks a destination TTL the platform did not report.
const notAvailable = "N/A"

func (s *Subscriber) renderCSV(
	pl *wire.Payload,
	ep *endpoint.Endpoint,
	ttl uint8,
	ttlOK bool,
	wallArr, monoArr uint64,
) error {
	dstTTL := notAvailable
	if ttlOK {
		dstTTL = fmt.Sprintf("%d", ttl)
	}

	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	fmt.Fprintf(bb, "%d,%d,%d,%s,%d,%d,%s,%s,%s,%s,%s,%d,%d,%d,%d\n",
		pl.Key,
		pl.SeqNum,
		pl.SeqLen,
		pl.GroupAddr(),
		pl.Port,
		pl.SourceTTL,
		dstTTL,
		pl.InterfaceName(),
		pl.HostName(),
		ep.Iface,
		util.Hostname(),
		pl.WallDeparture,
		wallArr,
		pl.MonoDeparture,
		monoArr,
	)

	_, err := s.out.Write(bb.B)
	return err
}

func (s *Subscriber) renderRaw(
	pl *wire.Payload,
	ep *endpoint.Endpoint,
	ttl uint8,
	ttlOK bool,
	wallArr, monoArr uint64,
) error {
	rec := wire.Record{
		Payload:     *pl,
		WallArrival: wallArr,
		MonoArrival: monoArr,
		TTLValid:    ttlOK,
		TTL:         ttl,
	}
	copy(rec.Interface[:], ep.Iface)
	copy(rec.Hostname[:], util.Hostname())

	rec.Encode(s.rec[:])
	_, err := s.out.Write(s.rec[:])
	return err
}
