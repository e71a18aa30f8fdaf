package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tetatet/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "integration_test.db")
	apiAddr := "127.0.0.1:8086"

	_ = os.Setenv("TETATET_DB", dbFile)
	_ = os.Setenv("API_ADDR", apiAddr)
	_ = os.Setenv("AUTH_SECRET", "very-secure-test-secret")
	_ = os.Setenv("REAPER_INTERVAL", "1s")
	defer func() {
		_ = os.Unsetenv("TETATET_DB")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("AUTH_SECRET")
		_ = os.Unsetenv("REAPER_INTERVAL")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	baseURL := "http://" + apiAddr
	waitForServer(t, baseURL+"/metrics", 20)

	client := &http.Client{}

	// Step 1: Register two users.
	aliceID := registerUser(t, client, baseURL, "alice", "Alice")
	bobID := registerUser(t, client, baseURL, "bob", "Bob")
	require.NotEqual(t, aliceID, bobID)

	// Step 2: Login.
	aliceToken := login(t, client, baseURL, "alice", "alicepassword")
	bobToken := login(t, client, baseURL, "bob", "bobpassword")

	// Step 3: Verify /api/me.
	reqMe, _ := http.NewRequest("GET", baseURL+"/api/me", nil)
	reqMe.Header.Set("token", aliceToken)
	respMe, err := client.Do(reqMe)
	require.NoError(t, err)
	defer func() { _ = respMe.Body.Close() }()
	require.Equal(t, http.StatusOK, respMe.StatusCode)

	var me models.User
	require.NoError(t, json.NewDecoder(respMe.Body).Decode(&me))
	require.Equal(t, "alice", me.UserName)

	// Step 4: Connect both users over websocket and identify.
	wsURL := "ws://" + apiAddr + "/api/chat"
	aliceWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = aliceWS.Close() }()

	require.NoError(t, aliceWS.WriteJSON(models.ClientEvent{
		Type: models.EventIdentify, UserID: aliceID,
	}))
	confirmed := readUntil(t, aliceWS, models.EventConnectionConfirmed)
	var connected models.ConnectedPayload
	require.NoError(t, json.Unmarshal(confirmed, &connected))
	require.Equal(t, aliceID, connected.UserID)
	require.Equal(t, 1, connected.Count)

	bobWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = bobWS.Close() }()

	require.NoError(t, bobWS.WriteJSON(models.ClientEvent{
		Type: models.EventIdentify, UserID: bobID,
	}))
	readUntil(t, bobWS, models.EventConnectionConfirmed)

	// Alice sees bob come online.
	presence := readUntil(t, aliceWS, models.EventPresenceOnline)
	var online models.PresencePayload
	require.NoError(t, json.Unmarshal(presence, &online))
	require.Equal(t, bobID, online.UserID)
	require.Equal(t, "Bob", online.Profile.DisplayName)

	// Step 5: Presence flags on the user list.
	reqUsers, _ := http.NewRequest("GET", baseURL+"/api/users", nil)
	reqUsers.Header.Set("token", bobToken)
	respUsers, err := client.Do(reqUsers)
	require.NoError(t, err)
	defer func() { _ = respUsers.Body.Close() }()
	require.Equal(t, http.StatusOK, respUsers.StatusCode)

	var userList struct {
		Users       []models.User `json:"users"`
		OnlineCount int           `json:"onlineCount"`
	}
	require.NoError(t, json.NewDecoder(respUsers.Body).Decode(&userList))
	require.Len(t, userList.Users, 2)
	require.Equal(t, 2, userList.OnlineCount)
	for _, u := range userList.Users {
		require.True(t, u.Online, "user %s should be online", u.UserName)
	}

	// Step 6: Alice sends bob a message over the socket. Bob must see the
	// optimistic copy before the durable confirmation.
	require.NoError(t, aliceWS.WriteJSON(models.ClientEvent{
		Type:       models.EventSendMessage,
		ReceiverID: bobID,
		Content:    "hello **bob**",
		TempID:     "temp-1",
	}))

	newMsg, confirmedMsg := readDeliveryPair(t, bobWS)
	var pending models.PendingMessage
	require.NoError(t, json.Unmarshal(newMsg, &pending))
	require.Equal(t, "temp-1", pending.TempID)
	require.Equal(t, aliceID, pending.SenderID)
	require.Equal(t, models.MessageStatusSending, pending.Status)

	var bobConfirm models.ConfirmedPayload
	require.NoError(t, json.Unmarshal(confirmedMsg, &bobConfirm))
	require.Equal(t, "temp-1", bobConfirm.TempID)

	aliceConfirm := readUntil(t, aliceWS, models.EventMessageConfirmed)
	var confirm models.ConfirmedPayload
	require.NoError(t, json.Unmarshal(aliceConfirm, &confirm))
	require.Equal(t, "temp-1", confirm.TempID)
	require.NotEmpty(t, confirm.Message.ID)
	require.Equal(t, "hello **bob**", confirm.Message.Content)
	require.Contains(t, confirm.Message.ContentHTML, "<strong>bob</strong>")

	// Step 7: Typing indicator.
	require.NoError(t, aliceWS.WriteJSON(models.ClientEvent{
		Type: models.EventTypingStart, ToUserID: bobID, FromUserID: aliceID, Username: "alice",
	}))
	typing := readUntil(t, bobWS, models.EventUserTyping)
	var typingPayload models.TypingPayload
	require.NoError(t, json.Unmarshal(typing, &typingPayload))
	require.Equal(t, aliceID, typingPayload.FromUserID)

	// Step 8: Read receipt back to alice.
	require.NoError(t, bobWS.WriteJSON(models.ClientEvent{
		Type: models.EventMessageRead, MessageID: confirm.Message.ID, SenderID: aliceID,
	}))
	receipt := readUntil(t, aliceWS, models.EventMessageReadReceipt)
	var receiptPayload models.ReadReceiptPayload
	require.NoError(t, json.Unmarshal(receipt, &receiptPayload))
	require.Equal(t, confirm.Message.ID, receiptPayload.MessageID)

	// Step 9: Conversation history over the REST API.
	reqHist, _ := http.NewRequest("GET", baseURL+"/api/messages/"+aliceID, nil)
	reqHist.Header.Set("token", bobToken)
	respHist, err := client.Do(reqHist)
	require.NoError(t, err)
	defer func() { _ = respHist.Body.Close() }()
	require.Equal(t, http.StatusOK, respHist.StatusCode)

	var history []models.Message
	require.NoError(t, json.NewDecoder(respHist.Body).Decode(&history))
	require.Len(t, history, 1)
	require.Equal(t, "hello **bob**", history[0].Content)

	// Step 10: Bob disconnects; alice sees the offline transition.
	_ = bobWS.Close()
	offline := readUntil(t, aliceWS, models.EventPresenceOffline)
	var offlinePayload models.OfflinePayload
	require.NoError(t, json.Unmarshal(offline, &offlinePayload))
	require.Equal(t, bobID, offlinePayload.UserID)

	// Step 11: A message to the now-offline bob is queued, and replays when
	// he identifies again.
	require.NoError(t, aliceWS.WriteJSON(models.ClientEvent{
		Type:       models.EventSendMessage,
		ReceiverID: bobID,
		Content:    "are you still there?",
		TempID:     "temp-2",
	}))
	readUntil(t, aliceWS, models.EventMessageConfirmed)

	bobWS2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = bobWS2.Close() }()
	require.NoError(t, bobWS2.WriteJSON(models.ClientEvent{
		Type: models.EventIdentify, UserID: bobID,
	}))

	// The queued message must arrive before the connection is confirmed.
	ev := readEvent(t, bobWS2)
	require.Equal(t, models.EventNewMessage, ev.Type)
	var queued models.Message
	require.NoError(t, json.Unmarshal(ev.Data, &queued))
	require.Equal(t, "are you still there?", queued.Content)
	require.NotEmpty(t, queued.ID)

	ev = readEvent(t, bobWS2)
	require.Equal(t, models.EventConnectionConfirmed, ev.Type)

	// Step 12: Unauthorized requests are rejected.
	respNoAuth, err := client.Get(baseURL + "/api/users")
	require.NoError(t, err)
	defer func() { _ = respNoAuth.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, respNoAuth.StatusCode)

	// Step 13: Logoff revokes the token.
	reqLogoff, _ := http.NewRequest("POST", baseURL+"/api/logoff", nil)
	reqLogoff.Header.Set("token", aliceToken)
	respLogoff, err := client.Do(reqLogoff)
	require.NoError(t, err)
	defer func() { _ = respLogoff.Body.Close() }()
	require.Equal(t, http.StatusOK, respLogoff.StatusCode)

	reqRevoked, _ := http.NewRequest("GET", baseURL+"/api/me", nil)
	reqRevoked.Header.Set("token", aliceToken)
	respRevoked, err := client.Do(reqRevoked)
	require.NoError(t, err)
	defer func() { _ = respRevoked.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, respRevoked.StatusCode)
}

func registerUser(t *testing.T, client *http.Client, baseURL, username, displayName string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username":    username,
		"displayName": displayName,
		"password":    username + "password",
	})
	resp, err := client.Post(baseURL+"/api/register", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var user models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	require.NotEmpty(t, user.ID)
	return user.ID
}

func login(t *testing.T, client *http.Client, baseURL, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	resp, err := client.Post(baseURL+"/api/login", "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loginResp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

type rawEvent struct {
	Type models.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

func readEvent(t *testing.T, ws *websocket.Conn) rawEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev rawEvent
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

// readUntil reads events until one of the wanted type arrives, skipping
// presence chatter in between.
func readUntil(t *testing.T, ws *websocket.Conn, want models.EventType) json.RawMessage {
	t.Helper()
	for i := 0; i < 20; i++ {
		ev := readEvent(t, ws)
		if ev.Type == want {
			return ev.Data
		}
	}
	t.Fatalf("event %s never arrived", want)
	return nil
}

// readDeliveryPair reads until new-message arrives, then until the matching
// confirmation, failing if the confirmation shows up first.
func readDeliveryPair(t *testing.T, ws *websocket.Conn) (newMsg, confirmed json.RawMessage) {
	t.Helper()
	for i := 0; i < 20; i++ {
		ev := readEvent(t, ws)
		switch ev.Type {
		case models.EventMessageConfirmed, models.EventMessageFailed:
			if newMsg == nil {
				t.Fatalf("%s arrived before new-message", ev.Type)
			}
			return newMsg, ev.Data
		case models.EventNewMessage:
			newMsg = ev.Data
		}
	}
	t.Fatal("delivery events never arrived")
	return nil, nil
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
