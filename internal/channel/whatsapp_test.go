package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"unicode/utf8"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testWhatsApp(t *testing.T, handler http.HandlerFunc) (*WhatsApp, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	w := NewWhatsApp(WhatsAppConfig{
		PhoneNumberID: "555000",
		AccessToken:   "token-123",
		AppSecret:     "app-secret",
		VerifyToken:   "verify-me",
	}, testLogger())
	w.baseURL = srv.URL
	return w, srv
}

func TestWhatsAppSendText_Success(t *testing.T) {
	var captured map[string]any
	var path, auth string

	w, _ := testWhatsApp(t, func(rw http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(rw).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.ABC123"}},
		})
	})

	res := w.SendText(context.Background(), "+15615551234", "hello there")
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}
	if res.ProviderMessageID != "wamid.ABC123" {
		t.Errorf("expected wamid.ABC123, got %s", res.ProviderMessageID)
	}
	if path != "/555000/messages" {
		t.Errorf("unexpected path: %s", path)
	}
	if auth != "Bearer token-123" {
		t.Errorf("unexpected auth header: %s", auth)
	}
	// Graph API wants the number without the plus.
	if captured["to"] != "15615551234" {
		t.Errorf("expected bare number, got %v", captured["to"])
	}
	if captured["type"] != "text" {
		t.Errorf("expected text payload, got %v", captured["type"])
	}
}

func TestWhatsAppSendText_APIError(t *testing.T) {
	w, _ := testWhatsApp(t, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]any{
			"error": map[string]any{"message": "Invalid recipient", "code": 131026},
		})
	})

	res := w.SendText(context.Background(), "+15615551234", "hello")
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Error != "Invalid recipient" {
		t.Errorf("expected provider error message, got %q", res.Error)
	}
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", res.StatusCode)
	}
}

func TestWhatsAppSend_NotConfigured(t *testing.T) {
	w := NewWhatsApp(WhatsAppConfig{}, testLogger())
	res := w.SendText(context.Background(), "+15615551234", "hello")
	if res.OK {
		t.Fatal("unconfigured adapter must not report success")
	}
}

func TestWhatsAppSendInteractive_ButtonLimits(t *testing.T) {
	var captured map[string]any
	w, _ := testWhatsApp(t, func(rw http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(rw).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.X"}},
		})
	})

	buttons := []Button{
		{ID: "a", Title: "A"},
		{ID: "b", Title: "this title is way longer than twenty characters"},
		{ID: "c", Title: "C"},
		{ID: "d", Title: "dropped"},
	}
	res := w.SendInteractive(context.Background(), "+15615551234", "pick one", buttons)
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}

	interactive := captured["interactive"].(map[string]any)
	action := interactive["action"].(map[string]any)
	sent := action["buttons"].([]any)
	if len(sent) != 3 {
		t.Fatalf("expected 3 buttons after cap, got %d", len(sent))
	}
	second := sent[1].(map[string]any)["reply"].(map[string]any)
	if title := second["title"].(string); len(title) != 20 {
		t.Errorf("expected title truncated to 20 chars, got %d (%q)", len(title), title)
	}
}

func TestWhatsAppSendInteractive_MultibyteTitleTruncation(t *testing.T) {
	var captured map[string]any
	w, _ := testWhatsApp(t, func(rw http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(rw).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.U"}},
		})
	})

	buttons := []Button{
		{ID: "a", Title: "Aprovação de saldo até março ✅"},
	}
	res := w.SendInteractive(context.Background(), "+15615551234", "pick one", buttons)
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}

	interactive := captured["interactive"].(map[string]any)
	action := interactive["action"].(map[string]any)
	sent := action["buttons"].([]any)
	title := sent[0].(map[string]any)["reply"].(map[string]any)["title"].(string)
	if !utf8.ValidString(title) {
		t.Fatalf("truncated title is not valid UTF-8: %q", title)
	}
	if got := utf8.RuneCountInString(title); got != 20 {
		t.Errorf("expected 20 characters, got %d (%q)", got, title)
	}
}

func TestWhatsAppSendTemplate_BodyParams(t *testing.T) {
	var captured map[string]any
	w, _ := testWhatsApp(t, func(rw http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(rw).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.T"}},
		})
	})

	res := w.SendTemplate(context.Background(), "+15615551234", "monthly_digest", map[string]any{
		"body_params": []string{"March", "42"},
	})
	if !res.OK {
		t.Fatalf("send failed: %s", res.Error)
	}

	template := captured["template"].(map[string]any)
	if template["name"] != "monthly_digest" {
		t.Errorf("unexpected template name: %v", template["name"])
	}
	components := template["components"].([]any)
	body := components[0].(map[string]any)
	params := body["parameters"].([]any)
	if len(params) != 2 {
		t.Fatalf("expected 2 body parameters, got %d", len(params))
	}
	first := params[0].(map[string]any)
	if first["text"] != "March" {
		t.Errorf("unexpected first parameter: %v", first["text"])
	}
}

func TestWhatsAppVerifySignature(t *testing.T) {
	w := NewWhatsApp(WhatsAppConfig{AppSecret: "app-secret"}, testLogger())
	body := []byte(`{"object":"whatsapp_business_account"}`)

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !w.VerifySignature(body, sig) {
		t.Error("valid signature should verify")
	}
	if w.VerifySignature(body, "sha256=deadbeef") {
		t.Error("invalid signature should not verify")
	}
	if w.VerifySignature(body, "") {
		t.Error("empty signature should not verify")
	}
}

func TestWhatsAppVerifySignature_NoSecretSkips(t *testing.T) {
	w := NewWhatsApp(WhatsAppConfig{}, testLogger())
	if !w.VerifySignature([]byte("anything"), "") {
		t.Error("verification should pass when no app secret is configured")
	}
}
