package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	gorilla "github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/wsession/wsession/connection/codec"
	"github.com/wsession/wsession/connection/transporter"
	"github.com/wsession/wsession/connection/transporter/websocket"
	"github.com/wsession/wsession/logger"
)

var _ = Describe("Session over a real websocket", func() {
	var server *websocket.MockWebsocketServer
	var session *Session
	var received chan string

	logger := logger.MockLogger(GinkgoWriter)

	BeforeEach(func() {
		server = websocket.NewMockWebsocketServer(logger, codec.JSONSubprotocol)
		Expect(server).ToNot(BeNil())

		config := DefaultConfig(server.Addr)
		config.Backoff = BackoffConfig{Base: 20 * time.Millisecond, Factor: 2, Cap: 100 * time.Millisecond}

		var err error
		session, err = New(logger, config, nil)
		Expect(err).ToNot(HaveOccurred())

		received = make(chan string, 10)
		session.OnMessage(func(in Inbound) {
			var body string
			if in.Err == nil && in.Message.Unmarshal(&body) == nil {
				received <- body
			}
		})
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		Expect(session.Shutdown(ctx)).To(Succeed())
		server.Shutdown()
	})

	It("gets through a refused handshake and a dropped connection", func() {
		server.Refuse(1)

		Expect(session.Connect()).To(Succeed())
		_, err := session.Send(textMessage("Hello from client side"))
		Expect(err).ToNot(HaveOccurred())

		Eventually(received, 2*time.Second).Should(Receive(Equal("Hello from client side")))
		Expect(session.State()).To(Equal(Open))
		Expect(server.Accepts()).To(Equal(1))

		server.DropAll()
		Eventually(server.Accepts, 2*time.Second).Should(Equal(2))
		Eventually(session.State).Should(Equal(Open))

		_, err = session.Send(textMessage("after reconnect"))
		Expect(err).ToNot(HaveOccurred())
		Eventually(received, 2*time.Second).Should(Receive(Equal("after reconnect")))
	})

	It("reconnects when the server restarts the connection cleanly", func() {
		Expect(session.Connect()).To(Succeed())
		Eventually(session.State, 2*time.Second).Should(Equal(Open))

		server.CloseAll(transporter.CloseGoingAway, "restarting")
		Eventually(server.Accepts, 2*time.Second).Should(Equal(2))
		Eventually(session.State).Should(Equal(Open))
	})

	It("delivers pushed messages", func() {
		Expect(session.Connect()).To(Succeed())
		Eventually(session.State, 2*time.Second).Should(Equal(Open))

		payload, err := codec.JSON{}.Encode(textMessage("pushed"))
		Expect(err).ToNot(HaveOccurred())
		server.Push(payload)

		Eventually(received, 2*time.Second).Should(Receive(Equal("pushed")))
	})
})

var _ = Describe("Session over a websocket whose peer stopped reading", func() {
	var server *httptest.Server
	var release chan struct{}
	var session *Session

	logger := logger.MockLogger(GinkgoWriter)

	BeforeEach(func() {
		release = make(chan struct{})
		upgrader := gorilla.Upgrader{Subprotocols: []string{codec.JSONSubprotocol}}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			<-release
		}))

		config := DefaultConfig("ws" + strings.TrimPrefix(server.URL, "http"))
		config.Transport.WriteTimeout = 3 * time.Second

		var err error
		session, err = New(logger, config, nil)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(session.Shutdown(ctx)).To(Succeed())

		close(release)
		server.Close()
	})

	It("keeps Send and Close responsive while writes are stuck", func() {
		Expect(session.Connect()).To(Succeed())
		Eventually(session.State, 2*time.Second).Should(Equal(Open))

		blob := textMessage(strings.Repeat("x", 1<<20))
		for i := 0; i < 20; i++ {
			began := time.Now()
			_, err := session.Send(blob)
			Expect(err).ToNot(HaveOccurred())
			Expect(time.Since(began)).To(BeNumerically("<", 250*time.Millisecond))
		}
		Expect(session.QueueDepth()).To(BeNumerically(">", 0))

		began := time.Now()
		session.Close(0, "done")
		Expect(time.Since(began)).To(BeNumerically("<", 250*time.Millisecond))

		Eventually(session.State, 3*time.Second).Should(Equal(Closed))
		Expect(session.QueueDepth()).To(BeZero())
	})
})
