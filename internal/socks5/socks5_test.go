package socks5

import (
	"context"
	"net"
	"testing"
	"time"

	. "github.com/bsm/ginkgo/v2"
	. "github.com/bsm/gomega"
)

func TestSocks5(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "socks5")
}

// fakeProxy starts a TCP listener playing a scripted SOCKS5 server and
// returns its address. serve is run against each accepted connection.
func fakeProxy(serve func(net.Conn)) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()
	return ln.Addr().String()
}

func readN(conn net.Conn, n int) []byte {
	buf := make([]byte, n)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err := conn.Read(buf)
	Expect(err).NotTo(HaveOccurred())
	return buf
}

var _ = Describe("Dial", func() {
	It("completes a no-auth handshake and returns a usable connection", func() {
		addr := fakeProxy(func(conn net.Conn) {
			readN(conn, 3) // greeting: ver, nmethods, methods
			conn.Write([]byte{version5, methodNoAuth})

			connectReq := readN(conn, 4+1+len("example.com")+2)
			Expect(connectReq[0]).To(Equal(byte(version5)))
			Expect(connectReq[1]).To(Equal(byte(cmdConnect)))

			reply := append([]byte{version5, replySuccess, 0x00, atypIPv4}, []byte{0, 0, 0, 0, 0, 0}...)
			conn.Write(reply)
		})

		conn, err := Dial(context.Background(), nil, Options{
			ProxyAddr: addr,
			Target:    "example.com",
			Port:      80,
		})
		Expect(err).NotTo(HaveOccurred())
		conn.Close()
	})

	It("authenticates with RFC1929 credentials when the proxy requires them", func() {
		addr := fakeProxy(func(conn net.Conn) {
			readN(conn, 4) // ver, nmethods=2, methods
			conn.Write([]byte{version5, methodUserPwd})

			authReq := readN(conn, 3+len("alice")+len("secret"))
			Expect(authReq[0]).To(Equal(byte(authVersion)))
			conn.Write([]byte{authVersion, authSuccess})

			readN(conn, 4+1+len("example.com")+2)
			conn.Write(append([]byte{version5, replySuccess, 0x00, atypIPv4}, []byte{0, 0, 0, 0, 0, 0}...))
		})

		conn, err := Dial(context.Background(), nil, Options{
			ProxyAddr: addr,
			Target:    "example.com",
			Port:      80,
			Creds:     &Credentials{User: "alice", Pass: "secret"},
		})
		Expect(err).NotTo(HaveOccurred())
		conn.Close()
	})

	It("returns ErrProxyBroken when the connect reply signals failure", func() {
		addr := fakeProxy(func(conn net.Conn) {
			readN(conn, 3)
			conn.Write([]byte{version5, methodNoAuth})
			readN(conn, 4+1+len("example.com")+2)
			conn.Write([]byte{version5, 0x05, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}) // 0x05 = connection refused
		})

		_, err := Dial(context.Background(), nil, Options{
			ProxyAddr: addr,
			Target:    "example.com",
			Port:      80,
		})
		Expect(err).To(MatchError(ErrProxyBroken))
	})

	It("returns ErrProxyBroken when no acceptable auth method is offered", func() {
		addr := fakeProxy(func(conn net.Conn) {
			readN(conn, 3)
			conn.Write([]byte{version5, 0xFF})
		})

		_, err := Dial(context.Background(), nil, Options{
			ProxyAddr: addr,
			Target:    "example.com",
			Port:      80,
		})
		Expect(err).To(MatchError(ErrProxyBroken))
	})

	It("parses a domain-name connect reply tail correctly", func() {
		addr := fakeProxy(func(conn net.Conn) {
			readN(conn, 3)
			conn.Write([]byte{version5, methodNoAuth})
			readN(conn, 4+1+len("example.com")+2)

			domain := "proxyhost.example"
			reply := []byte{version5, replySuccess, 0x00, atypDomain, byte(len(domain))}
			reply = append(reply, domain...)
			reply = append(reply, 0, 80)
			conn.Write(reply)
		})

		conn, err := Dial(context.Background(), nil, Options{
			ProxyAddr: addr,
			Target:    "example.com",
			Port:      80,
		})
		Expect(err).NotTo(HaveOccurred())
		conn.Close()
	})
})

var _ = Describe("CloseQuiet", func() {
	It("does not panic on an already-closed connection", func() {
		a, b := net.Pipe()
		b.Close()
		a.Close()
		Expect(func() { CloseQuiet(a) }).NotTo(Panic())
	})
})
