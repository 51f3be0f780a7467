package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	"github.com/wsession/wsession/config"
	"github.com/wsession/wsession/connection/codec"
	"github.com/wsession/wsession/connection/transporter/websocket"
	"github.com/wsession/wsession/logger"
)

func TestWsclient(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Wsclient Suite")
}

var _ = Describe("wsclient", Ordered, func() {
	var server *websocket.MockWebsocketServer
	var path string

	BeforeAll(func() {
		server = websocket.NewMockWebsocketServer(logger.MockLogger(GinkgoWriter), codec.JSONSubprotocol)
		Expect(server).ToNot(BeNil())

		path = filepath.Join(GinkgoT().TempDir(), "wsclient.yaml")
	})

	AfterAll(func() {
		server.Shutdown()
	})

	It("writes a config file with flags applied", func() {
		out := gbytes.NewBuffer()
		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{"config", "init", "--config", path, "--endpoint", server.Addr, "--log-level", "info"})

		Expect(rootCmd.Execute()).To(Succeed())
		Expect(out).To(gbytes.Say("Wrote config to"))

		cfg, err := config.Load(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.Endpoint).To(Equal(server.Addr))
		Expect(cfg.Log.Level).To(Equal("info"))
	})

	It("sends the greeting and logs the echo until interrupted", func() {
		out := gbytes.NewBuffer()
		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{"connect", "--config", path, "--endpoint", server.Addr, "--log-level", "info"})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		result := make(chan error, 1)
		go func() {
			result <- rootCmd.ExecuteContext(ctx)
		}()

		Eventually(server.ReceivedBytes, 5*time.Second).Should(Receive(ContainSubstring("Hello from client side")))
		Eventually(out, 5*time.Second).Should(gbytes.Say(`Received greeting "Hello from client side"`))

		cancel()
		Eventually(result, 5*time.Second).Should(Receive(BeNil()))
		Expect(out).To(gbytes.Say("Session stats"))
	})

	It("keeps an explicit log level when the config file changes", func() {
		out := gbytes.NewBuffer()
		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{"connect", "--config", path, "--endpoint", server.Addr, "--log-level", "info"})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		result := make(chan error, 1)
		go func() {
			result <- rootCmd.ExecuteContext(ctx)
		}()

		Eventually(out, 5*time.Second).Should(gbytes.Say(`Received greeting "Hello from client side"`))

		cfg, err := config.Load(path)
		Expect(err).ToNot(HaveOccurred())
		cfg.Log.Level = "error"
		Expect(cfg.Save(path)).To(Succeed())
		Consistently(out, 500*time.Millisecond).ShouldNot(gbytes.Say("Log level set to"))

		message, err := codec.NewMessage("greeting", "pushed")
		Expect(err).ToNot(HaveOccurred())
		payload, err := codec.JSON{}.Encode(message)
		Expect(err).ToNot(HaveOccurred())
		server.Push(payload)
		Eventually(out, 5*time.Second).Should(gbytes.Say(`Received greeting "pushed"`))

		cancel()
		Eventually(result, 5*time.Second).Should(Receive(BeNil()))
	})

	It("fails when the named config file does not exist", func() {
		rootCmd.SetOut(gbytes.NewBuffer())
		rootCmd.SetArgs([]string{"connect", "--config", filepath.Join(os.TempDir(), "does-not-exist.yaml"), "--endpoint", server.Addr})

		Expect(rootCmd.Execute()).To(HaveOccurred())
	})

	It("sends the greeting as raw text under the text subprotocol", func() {
		textServer := websocket.NewMockWebsocketServer(logger.MockLogger(GinkgoWriter), codec.TextSubprotocol)
		defer textServer.Shutdown()

		out := gbytes.NewBuffer()
		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{"connect", "--config", path, "--endpoint", textServer.Addr, "--subprotocol", "text", "--log-level", "info"})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		result := make(chan error, 1)
		go func() {
			result <- rootCmd.ExecuteContext(ctx)
		}()

		Eventually(textServer.ReceivedBytes, 5*time.Second).Should(Receive(Equal([]byte("Hello from client side"))))
		Eventually(out, 5*time.Second).Should(gbytes.Say(`Received text "Hello from client side"`))

		cancel()
		Eventually(result, 5*time.Second).Should(Receive(BeNil()))
	})
})
