package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"labchat/internal/chat"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base url")
	wsURL     = flag.String("ws", "ws://localhost:8080/ws", "websocket url")
	userCount = flag.Int("users", 100, "concurrent senders per section")
	msgCount  = flag.Int("messages", 20, "messages per sender")
	watchers  = flag.Int("watchers", 10, "live watchers per section")
)

var (
	sent      int64
	failed    int64
	snapshots int64
)

func main() {
	flag.Parse()
	sections := chat.Sections()
	log.Printf("🔥 STARTING STRESS TEST: %d sections, %d senders and %d watchers each, %d messages per sender",
		len(sections), *userCount, *watchers, *msgCount)

	stop := make(chan struct{})
	var watchWg sync.WaitGroup
	for _, s := range sections {
		for i := 0; i < *watchers; i++ {
			watchWg.Add(1)
			go func() {
				defer watchWg.Done()
				watch(s.ID, stop)
			}()
		}
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, s := range sections {
		for i := 0; i < *userCount; i++ {
			wg.Add(1)
			go func(user int) {
				defer wg.Done()
				spamSection(s.ID, user)
			}(i)
		}
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Let the last notifications reach the watchers.
	time.Sleep(2 * time.Second)
	close(stop)
	watchWg.Wait()

	log.Printf("✅ LOAD TEST COMPLETE in %s: %d sent, %d failed, %d snapshots received",
		elapsed, atomic.LoadInt64(&sent), atomic.LoadInt64(&failed), atomic.LoadInt64(&snapshots))
}

func spamSection(section chat.Section, user int) {
	for i := 0; i < *msgCount; i++ {
		text := fmt.Sprintf("LoadTest Msg %d from u_%d", i, user)
		if i%5 == 0 {
			text = fmt.Sprintf("def handler_%d(): print('u_%d')", i, user)
		}
		if err := postMessage(section, text); err != nil {
			atomic.AddInt64(&failed, 1)
			log.Printf("❌ Send Fail [%s u_%d]: %v", section, user, err)
			continue
		}
		atomic.AddInt64(&sent, 1)
		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		time.Sleep(10 * time.Millisecond)
	}
}

func postMessage(section chat.Section, text string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("text", text)
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/api/sections/%s/messages", *baseURL, section), mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

func watch(section chat.Section, stop <-chan struct{}) {
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?section=%s", *wsURL, section), nil)
	if err != nil {
		log.Printf("❌ WS Connect Fail [%s]: %v", section, err)
		return
	}
	defer conn.Close()

	go func() {
		<-stop
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		atomic.AddInt64(&snapshots, int64(bytes.Count(frame, []byte{'\n'})+1))
	}
}
