package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lmoretti/filo/internal/config"
	"github.com/lmoretti/filo/internal/paths"
)

func main() {
	addrFlag := flag.String("addr", "", "gateway address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	addr := *addrFlag
	if addr == "" {
		cfg, err := config.Load(paths.ConfigPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		addr = cfg.Gateway.Listen
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: "http://" + addr, jsonOut: *jsonFlag}

	switch args[0] {
	case "status":
		c.cmdStatus()
	case "chats":
		c.cmdChats()
	case "open":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: filoctl open <chat-id>")
			os.Exit(1)
		}
		c.cmdOpen(args[1])
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: filoctl messages <chat-id>")
			os.Exit(1)
		}
		c.cmdMessages(args[1])
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: filoctl send <chat-id> <text>")
			os.Exit(1)
		}
		c.cmdSend(args[1], strings.Join(args[2:], " "))
	case "attach":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: filoctl attach <chat-id> <path> [content-type]")
			os.Exit(1)
		}
		ct := ""
		if len(args) >= 4 {
			ct = args[3]
		}
		c.cmdAttach(args[1], args[2], ct)
	case "delete":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: filoctl delete <chat-id> <message-id>")
			os.Exit(1)
		}
		c.del("/v1/chats/" + url.PathEscape(args[1]) + "/messages/" + url.PathEscape(args[2]))
		fmt.Printf("Deleted %s\n", args[2])
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: filoctl search <query>")
			os.Exit(1)
		}
		c.cmdSearch(strings.Join(args[1:], " "))
	case "presence":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: filoctl presence <visible|hidden|network_up|network_down|teardown>")
			os.Exit(1)
		}
		c.post("/v1/presence/"+url.PathEscape(args[1]), nil, nil)
		fmt.Printf("Signalled %s\n", args[1])
	case "watch":
		prefix := ""
		if len(args) >= 2 {
			prefix = args[1]
		}
		c.cmdWatch(addr, prefix)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: filoctl [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon status")
	fmt.Fprintln(os.Stderr, "  chats                  List mirrored chats")
	fmt.Fprintln(os.Stderr, "  open <chat-id>         Open a chat session")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>     List mirrored messages for a chat")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>  Send a message (chat must be open)")
	fmt.Fprintln(os.Stderr, "  attach <chat-id> <path> [content-type]")
	fmt.Fprintln(os.Stderr, "                         Send a file attachment (chat must be open)")
	fmt.Fprintln(os.Stderr, "  delete <chat-id> <message-id>")
	fmt.Fprintln(os.Stderr, "                         Delete a message")
	fmt.Fprintln(os.Stderr, "  search <query>         Full-text search mirrored messages")
	fmt.Fprintln(os.Stderr, "  presence <signal>      Report a client lifecycle signal")
	fmt.Fprintln(os.Stderr, "  watch [prefix]         Stream daemon events")
}

type client struct {
	base    string
	jsonOut bool
}

func (c *client) get(path string, out any) {
	resp, err := http.Get(c.base + path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	c.decode(resp, out)
}

func (c *client) post(path string, body, out any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	resp, err := http.Post(c.base+path, "application/json", &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	c.decode(resp, out)
}

func (c *client) del(path string) {
	req, err := http.NewRequest(http.MethodDelete, c.base+path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	c.decode(resp, nil)
}

func (c *client) decode(resp *http.Response, out any) {
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Error)
		} else {
			fmt.Fprintf(os.Stderr, "error: daemon returned %s\n", resp.Status)
		}
		os.Exit(1)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func outputJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func (c *client) cmdStatus() {
	var status struct {
		Profile   string `json:"profile"`
		UptimeMs  int64  `json:"uptime_ms"`
		OpenChats int    `json:"open_chats"`
		CallState string `json:"call_state"`
	}
	c.get("/v1/status", &status)
	if c.jsonOut {
		outputJSON(status)
		return
	}
	fmt.Printf("Profile:    %s\n", status.Profile)
	fmt.Printf("Uptime:     %dms\n", status.UptimeMs)
	fmt.Printf("Open chats: %d\n", status.OpenChats)
	fmt.Printf("Call:       %s\n", status.CallState)
}

func (c *client) cmdChats() {
	var chats []struct {
		ID                 string `json:"ID"`
		Name               string `json:"Name"`
		IsGroup            bool   `json:"IsGroup"`
		LastMessageAt      int64  `json:"LastMessageAt"`
		LastMessagePreview string `json:"LastMessagePreview"`
	}
	c.get("/v1/chats", &chats)
	if c.jsonOut {
		outputJSON(chats)
		return
	}
	for _, chat := range chats {
		name := chat.Name
		if name == "" {
			name = chat.ID
		}
		when := ""
		if chat.LastMessageAt > 0 {
			when = time.UnixMilli(chat.LastMessageAt).Format("2006-01-02 15:04")
		}
		fmt.Printf("%-30s %-18s %s\n", name, when, chat.LastMessagePreview)
	}
}

func (c *client) cmdOpen(chatID string) {
	var out struct {
		ChatID  string `json:"chat_id"`
		Blocked bool   `json:"blocked"`
	}
	c.post("/v1/chats/"+url.PathEscape(chatID)+"/open", nil, &out)
	if c.jsonOut {
		outputJSON(out)
		return
	}
	if out.Blocked {
		fmt.Printf("Opened %s (blocked, sends disabled)\n", out.ChatID)
	} else {
		fmt.Printf("Opened %s\n", out.ChatID)
	}
}

func (c *client) cmdMessages(chatID string) {
	var msgs []struct {
		MsgID     string `json:"MsgID"`
		SenderID  string `json:"SenderID"`
		Body      string `json:"Body"`
		Status    string `json:"Status"`
		Timestamp int64  `json:"Timestamp"`
	}
	c.get("/v1/chats/"+url.PathEscape(chatID)+"/messages", &msgs)
	if c.jsonOut {
		outputJSON(msgs)
		return
	}
	// The mirror read path returns newest first.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		when := time.UnixMilli(m.Timestamp).Format("15:04:05")
		fmt.Printf("[%s] %s (%s): %s\n", when, m.SenderID, m.Status, m.Body)
	}
}

func (c *client) cmdSend(chatID, text string) {
	var msg struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	c.post("/v1/chats/"+url.PathEscape(chatID)+"/messages", map[string]string{"body": text}, &msg)
	if c.jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("Queued %s (%s)\n", msg.ID, msg.Status)
}

func (c *client) cmdAttach(chatID, path, contentType string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var msg struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
	}
	c.post("/v1/chats/"+url.PathEscape(chatID)+"/attachments", map[string]any{
		"name":         filepath.Base(path),
		"content_type": contentType,
		"data":         data,
	}, &msg)
	if c.jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("Queued %s (%s, %s)\n", msg.ID, msg.Kind, msg.Status)
}

func (c *client) cmdSearch(query string) {
	var results []struct {
		Message struct {
			ChatID string `json:"ChatID"`
			MsgID  string `json:"MsgID"`
		} `json:"Message"`
		Snippet string `json:"Snippet"`
	}
	c.get("/v1/search?q="+url.QueryEscape(query), &results)
	if c.jsonOut {
		outputJSON(results)
		return
	}
	for _, r := range results {
		fmt.Printf("%s %s: %s\n", r.Message.ChatID, r.Message.MsgID, r.Snippet)
	}
}

func (c *client) cmdWatch(addr, prefix string) {
	wsURL := "ws://" + addr + "/v1/events"
	if prefix != "" {
		wsURL += "?prefix=" + url.QueryEscape(prefix)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon: %v\n", err)
		os.Exit(1)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		_ = conn.Close()
		os.Exit(0)
	}()

	for {
		var frame struct {
			Kind      string          `json:"kind"`
			Timestamp int64           `json:"timestamp"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			fmt.Fprintf(os.Stderr, "stream closed: %v\n", err)
			os.Exit(1)
		}
		if c.jsonOut {
			outputJSON(frame)
			continue
		}
		when := time.UnixMilli(frame.Timestamp).Format("15:04:05")
		fmt.Printf("[%s] %-22s %s\n", when, frame.Kind, frame.Payload)
	}
}
