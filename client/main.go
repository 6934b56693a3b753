package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nestbay/realtime/pkg/model"
)

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID, name, role string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{
		"user_id": userID,
		"name":    name,
		"role":    role,
	})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}

	return loginResp.Token, nil
}

func send(c *websocket.Conn, event string, data any) {
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(model.ClientFrame{Event: event, Data: raw})
	if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Println("write:", err)
	}
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	name := flag.String("name", "", "display name")
	role := flag.String("role", "customer", "role: customer, agent or admin")
	flag.Parse()

	if *name == "" {
		*name = *userID
	}

	// 1. Login to get token
	log.Printf("Logging in as %s (%s)...", *userID, *role)
	token, err := login(*apiAddr, *userID, *name, *role)
	if err != nil {
		log.Fatal("Login failed:", err)
	}
	log.Printf("Login successful. Token: %s...", token[:10])

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// 3. Print every server push as it arrives
	go func() {
		defer close(done)
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			var frame struct {
				Event string          `json:"event"`
				Data  json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(raw, &frame); err != nil {
				fmt.Printf("\rReceived raw: %s\n> ", raw)
				continue
			}
			fmt.Printf("\r[%s] %s\n> ", frame.Event, frame.Data)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// room is the conversation plain text goes to.
	var room string

	// 4. Read from stdin: /commands drive the protocol, anything else is a
	// message to the current room.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				fmt.Print("> ")
				continue
			}
			if text == "/quit" {
				close(interrupt)
				break
			}

			cmd, arg, _ := strings.Cut(text, " ")
			switch cmd {
			case "/start":
				send(c, model.EventStartConversation, map[string]any{
					"participants": strings.Split(arg, ","),
				})
			case "/join":
				room = arg
				send(c, model.EventJoinRoom, map[string]string{"conversation_id": arg})
			case "/leave":
				send(c, model.EventLeaveRoom, map[string]string{"conversation_id": room})
				room = ""
			case "/edit":
				idStr, content, _ := strings.Cut(arg, " ")
				id, _ := strconv.ParseInt(idStr, 10, 64)
				send(c, model.EventEditMessage, map[string]any{
					"conversation_id": room, "message_id": id, "content": content,
				})
			case "/del":
				id, _ := strconv.ParseInt(arg, 10, 64)
				send(c, model.EventDeleteMessage, map[string]any{
					"conversation_id": room, "message_id": id,
				})
			case "/read":
				send(c, model.EventMarkRead, map[string]string{"conversation_id": room})
			case "/typing":
				send(c, model.EventTyping, map[string]any{
					"conversation_id": room, "is_typing": true,
				})
			case "/ticket":
				send(c, model.EventOpenTicket, map[string]string{"subject": arg})
			case "/agent":
				send(c, model.EventAgentConnect, map[string]string{})
			case "/accept":
				room = arg
				send(c, model.EventAgentAcceptChat, map[string]string{"ticket_id": arg})
			case "/end":
				ticketID, resolvedStr, _ := strings.Cut(arg, " ")
				send(c, model.EventAgentEndSession, map[string]any{
					"ticket_id": ticketID, "resolved": resolvedStr == "resolved",
				})
			case "/status":
				send(c, model.EventPresenceStatus, map[string]string{"status": arg})
			default:
				if room == "" {
					fmt.Print("join a conversation first: /join <id>\n> ")
					continue
				}
				send(c, model.EventSendMessage, map[string]string{
					"conversation_id": room, "content": text,
				})
			}
			fmt.Print("> ")
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-interrupt:
			log.Println("interrupt")

			// Cleanly close the connection by sending a close message and then
			// waiting (with timeout) for the server to close the connection.
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Println("write close:", err)
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
