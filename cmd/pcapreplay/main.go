// Command pcapreplay feeds a recorded pcap file into a netstack.Stack's
// Ethernet ingress path, one frame at a time, so the ARP/IP/ICMP/UDP/TCP
// state machines can be exercised against a reproducible capture without
// real hardware. It reads frames written out via pcapgo in the standard
// pcap format.
package main

import (
	"flag"
	"io"
	"net"
	"os"

	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/netstack"
)

func main() {
	path := flag.String("pcap", "", "path to a pcap file to replay")
	iface := flag.String("iface", "replay0", "name to register the virtual NIC under")
	ip := flag.String("ip", "10.0.0.1", "IPv4 address to assign the virtual NIC")
	flag.Parse()

	log := logrus.WithField("component", "pcapreplay")

	if *path == "" {
		log.Fatal("missing -pcap")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.WithError(err).Fatal("open pcap")
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		log.WithError(err).Fatal("parse pcap header")
	}

	stack := netstack.NewStack()
	drv := &sinkDriver{log: log}
	nic := stack.NICs.Add(*iface, drv, kernel.MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}, parseIP(*ip), [4]byte{255, 255, 255, 0}, netstack.DefaultMTUEthernet)

	count := 0
	for {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.WithError(err).Fatal("read packet")
		}
		frame := make([]byte, len(data))
		copy(frame, data)
		if err := stack.EthernetIngress(nic, kernel.FromBytes(frame)); err != nil {
			log.WithError(err).WithField("frame", count).Debug("ingress error")
		}
		count++
	}
	log.WithField("frames", count).Info("replay complete")
}

// sinkDriver discards anything the stack transmits in response; pcapreplay
// is a one-way ingress harness.
type sinkDriver struct {
	log *logrus.Entry
}

func (d *sinkDriver) TxMsg(msg *kernel.Message) error {
	d.log.WithField("bytes", msg.Len()).Debug("tx suppressed by replay sink")
	return nil
}

func (d *sinkDriver) GetConfig() (netstack.Config, error) {
	return netstack.Config{Name: "replay0", MTU: netstack.DefaultMTUEthernet}, nil
}

func (d *sinkDriver) Debug() {}

func parseIP(s string) [4]byte {
	var out [4]byte
	if ip := net.ParseIP(s); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			copy(out[:], v4)
		}
	}
	return out
}
