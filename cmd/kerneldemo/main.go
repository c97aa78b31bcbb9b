// Command kerneldemo wires a netstack.Stack and a vfs.VFS together and
// runs the end-to-end scenarios spec.md §8 describes: ARP resolution, a
// UDP round trip, a TCP three-way handshake and short transfer, and a VFS
// mount across two filesystems. It stands in for the real kernel's boot
// sequence — a runnable demonstration, not a test.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/netstack"
	"github.com/nanokern/corekit/vfs"
	"github.com/nanokern/corekit/vfs/ramfs"
)

func main() {
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "kerneldemo")

	netDemo(log)
	vfsDemo(log)
}

// pairedDriver hands every transmitted frame directly to a peer NIC's
// ingress, the simplest possible two-host link.
type pairedDriver struct {
	name string
	cfg  netstack.Config
	peer *netstack.NIC
	peerStack *netstack.Stack
}

func (d *pairedDriver) TxMsg(msg *kernel.Message) error {
	frame := append([]byte(nil), msg.Bytes()...)
	return d.peerStack.EthernetIngress(d.peer, kernel.FromBytes(frame))
}

func (d *pairedDriver) GetConfig() (netstack.Config, error) { return d.cfg, nil }
func (d *pairedDriver) Debug()                               {}

func netDemo(log *logrus.Entry) {
	a := netstack.NewStack()
	b := netstack.NewStack()

	macA := kernel.MAC{0x02, 0, 0, 0, 0, 1}
	macB := kernel.MAC{0x02, 0, 0, 0, 0, 2}
	ipA := [4]byte{10, 0, 0, 1}
	ipB := [4]byte{10, 0, 0, 2}
	mask := [4]byte{255, 255, 255, 0}

	driverA := &pairedDriver{name: "a", cfg: netstack.Config{Name: "a", MAC: macA, MTU: netstack.DefaultMTUEthernet}}
	driverB := &pairedDriver{name: "b", cfg: netstack.Config{Name: "b", MAC: macB, MTU: netstack.DefaultMTUEthernet}}

	nicA := a.NICs.Add("a", driverA, macA, ipA, mask, netstack.DefaultMTUEthernet)
	nicB := b.NICs.Add("b", driverB, macB, ipB, mask, netstack.DefaultMTUEthernet)

	driverA.peer, driverA.peerStack = nicB, b
	driverB.peer, driverB.peerStack = nicA, a

	a.Routes.Add([4]byte{10, 0, 0, 0}, mask, [4]byte{}, nicA)
	b.Routes.Add([4]byte{10, 0, 0, 0}, mask, [4]byte{}, nicB)

	stop := tickBoth(a, b)
	defer stop()

	log.Info("starting UDP round trip")
	udpDemo(log, a, b, ipA, ipB)

	log.Info("starting TCP handshake and transfer")
	tcpDemo(log, a, b, ipA, ipB)
}

func tickBoth(a, b *netstack.Stack) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(10 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				a.Tick()
				b.Tick()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func udpDemo(log *logrus.Entry, a, b *netstack.Stack, ipA, ipB [4]byte) {
	server, err := b.Sockets.Create(netstack.AF_INET, netstack.SOCK_DGRAM, 0)
	if err != nil {
		log.WithError(err).Fatal("create udp server socket")
	}
	if err := server.Bind(netstack.Addr{IP: ipB, Port: 9000}); err != nil {
		log.WithError(err).Fatal("bind udp server")
	}

	client, err := a.Sockets.Create(netstack.AF_INET, netstack.SOCK_DGRAM, 0)
	if err != nil {
		log.WithError(err).Fatal("create udp client socket")
	}
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := []byte("hello kernel")
	if _, err := client.SendTo(ctx, payload, netstack.Addr{IP: ipB, Port: 9000}); err != nil {
		log.WithError(err).Fatal("udp sendto")
	}

	buf := make([]byte, 128)
	n, from, err := server.RecvFrom(ctx, buf)
	if err != nil {
		log.WithError(err).Fatal("udp recvfrom")
	}
	log.WithField("from", from).WithField("payload", string(buf[:n])).Info("udp round trip complete")
}

func tcpDemo(log *logrus.Entry, a, b *netstack.Stack, ipA, ipB [4]byte) {
	listener, err := b.Sockets.Create(netstack.AF_INET, netstack.SOCK_STREAM, 0)
	if err != nil {
		log.WithError(err).Fatal("create tcp listener")
	}
	if err := listener.Bind(netstack.Addr{IP: ipB, Port: 9001}); err != nil {
		log.WithError(err).Fatal("bind tcp listener")
	}
	if err := listener.Listen(netstack.TCPDefaultBacklog); err != nil {
		log.WithError(err).Fatal("listen tcp")
	}
	defer listener.Close()

	accepted := make(chan *netstack.Socket, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn, err := listener.Accept(ctx)
		if err != nil {
			log.WithError(err).Error("tcp accept")
			return
		}
		accepted <- conn
	}()

	client, err := a.Sockets.Create(netstack.AF_INET, netstack.SOCK_STREAM, 0)
	if err != nil {
		log.WithError(err).Fatal("create tcp client")
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, netstack.Addr{IP: ipB, Port: 9001}); err != nil {
		log.WithError(err).Fatal("tcp connect")
	}

	server := <-accepted
	defer server.Close()

	if _, err := client.Send(ctx, []byte("ping")); err != nil {
		log.WithError(err).Fatal("tcp send")
	}
	buf := make([]byte, 16)
	n, err := server.Recv(ctx, buf)
	if err != nil {
		log.WithError(err).Fatal("tcp recv")
	}
	log.WithField("payload", string(buf[:n])).Info("tcp handshake and transfer complete")
}

func vfsDemo(log *logrus.Entry) {
	v := vfs.New(0)

	rootFS := ramfs.New()
	rootDev := ramfs.NewDevice()
	v.Devices.Register(0, rootDev)
	if _, err := v.Mount(nil, 0, rootFS); err != nil {
		log.WithError(err).Fatal("mount root")
	}

	proc, err := vfs.NewProcess(v)
	if err != nil {
		log.WithError(err).Fatal("create process")
	}

	tmpFS := ramfs.New()
	tmpDev := ramfs.NewDevice()
	v.Devices.Register(1, tmpDev)

	if err := proc.Mkdir("/tmp", 0o755); err != nil {
		log.WithError(err).Fatal("mkdir /tmp")
	}
	tmpDirInode, err := v.Resolver.Lookup(proc.Getcwd(), "/tmp")
	if err != nil {
		log.WithError(err).Fatal("lookup /tmp")
	}
	defer tmpDirInode.Release()

	if _, err := v.Mount(tmpDirInode, 1, tmpFS); err != nil {
		log.WithError(err).Fatal("mount /tmp")
	}

	fd, err := proc.Open("/tmp/test", vfs.O_WRONLY|vfs.O_CREAT, 0o644)
	if err != nil {
		log.WithError(err).Fatal("create /tmp/test")
	}
	if _, err := proc.Write(fd, []byte("hello vfs")); err != nil {
		log.WithError(err).Fatal("write /tmp/test")
	}
	if err := proc.Close(fd); err != nil {
		log.WithError(err).Fatal("close /tmp/test")
	}

	rfd, err := proc.Open("/tmp/test", vfs.O_RDONLY, 0)
	if err != nil {
		log.WithError(err).Fatal("open /tmp/test")
	}
	buf := make([]byte, 64)
	n, err := proc.Read(rfd, buf)
	if err != nil {
		log.WithError(err).Fatal("read /tmp/test")
	}
	proc.Close(rfd)
	log.WithField("contents", string(buf[:n])).Info("vfs mount and file round trip complete")

	back, err := v.Resolver.Lookup(proc.Getcwd(), "/tmp/..")
	if err != nil {
		log.WithError(err).Fatal("resolve /tmp/..")
	}
	defer back.Release()
	log.WithField("inode", back.Ino).Info("crossed back over mount point via ..")
}
