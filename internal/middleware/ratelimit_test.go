package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// newTestRateLimiter はテスト終了時に停止するレートリミッターを生成する。
func newTestRateLimiter(t *testing.T, cfg RateLimiterConfig) *RateLimiter {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)
	return rl
}

// limitedRequest はユーザーID付きのリクエストを生成する。
func limitedRequest(method, target, userID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(ContextWithUserID(req.Context(), userID))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGeneralRateLimit_BurstThenRejects(t *testing.T) {
	// バースト分は通り、超過した時点で429とRetry-Afterが返ることを検証
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:  1,
		GeneralBurst: 2,
		ImportRate:   1,
		ImportBurst:  10,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "user-general"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("リクエスト%d: status = %d, want %d", i+1, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "user-general"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("Retry-Afterヘッダーがない")
	}
	if seconds, err := strconv.Atoi(retryAfter); err != nil || seconds < 1 {
		t.Errorf("Retry-After = %q, 1以上の秒数を期待", retryAfter)
	}
}

func TestGeneralRateLimit_PerUserBuckets(t *testing.T) {
	// あるユーザーの枯渇が別ユーザーに影響しないことを検証
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:  1,
		GeneralBurst: 1,
		ImportRate:   1,
		ImportBurst:  10,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "staff-a"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("staff-a 1回目: status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "staff-a"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("staff-a 2回目: status = %d, want 429", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "staff-b"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("staff-b 1回目: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestGeneralRateLimit_NoUserID_Returns401(t *testing.T) {
	// セッションミドルウェアを通っていないリクエストは拒否することを検証
	rl := newTestRateLimiter(t, DefaultRateLimiterConfig())
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("ユーザーIDなしでハンドラーに到達した")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/clients", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestImportRateLimit_StricterBucket(t *testing.T) {
	// 取り込み専用バケットがバースト超過で429を返すことを検証
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:  100,
		GeneralBurst: 200,
		ImportRate:   1,
		ImportBurst:  1,
	})
	handler := rl.ImportMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodPost, "/api/clients/import", "user-importer"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("1回目: status = %d, want 200", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodPost, "/api/clients/import", "user-importer"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("2回目: status = %d, want 429", w.Result().StatusCode)
	}
	if w.Result().Header.Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーがない")
	}
}

func TestImportRateLimit_IndependentFromGeneral(t *testing.T) {
	// 一般バケットを使い切っても取り込みバケットは消費されないことを検証
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:  1,
		GeneralBurst: 1,
		ImportRate:   1,
		ImportBurst:  1,
	})

	generalHandler := rl.GeneralMiddleware()(okHandler())
	w := httptest.NewRecorder()
	generalHandler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "user-both"))

	importHandler := rl.ImportMiddleware()(okHandler())
	w = httptest.NewRecorder()
	importHandler.ServeHTTP(w, limitedRequest(http.MethodPost, "/api/clients/import", "user-both"))

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("取り込みは許可されるべき: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestRateLimit_429ResponseIsUnifiedJSON(t *testing.T) {
	// 429レスポンスが統一エラーフォーマットであることを検証
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:  1,
		GeneralBurst: 1,
		ImportRate:   1,
		ImportBurst:  10,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest(http.MethodGet, "/api/clients", "user-json"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, limitedRequest(http.MethodGet, "/api/clients", "user-json"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v", err)
	}
	if body.Code == "" || body.Message == "" || body.Category == "" {
		t.Errorf("統一フォーマットのフィールドが欠落: %+v", body)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	// 一定時間アクセスのないユーザーのリミッターが回収されることを検証
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		ImportRate:      1,
		ImportBurst:     10,
		CleanupInterval: 50 * time.Millisecond,
	})
	handler := rl.GeneralMiddleware()(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), limitedRequest(http.MethodGet, "/api/clients", "user-idle"))

	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("リミッターエントリが作成されていない")
	}

	// TTLはCleanupIntervalの2倍。その後のクリーンアップ実行を待つ
	time.Sleep(200 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("クリーンアップ後のエントリ数 = %d, want 0", count)
	}
}

func TestRateLimit_InChainWithSessionAndCORS(t *testing.T) {
	// CORS → Session → RateLimitのチェーンで枯渇時に429が返ることを検証
	sessions := sessionFixture("sess-rate", "user-rate-chain", time.Now().Add(time.Hour))
	rl := newTestRateLimiter(t, RateLimiterConfig{
		GeneralRate:  1,
		GeneralBurst: 2,
		ImportRate:   1,
		ImportBurst:  10,
	})

	handler := NewCORSMiddleware("http://localhost:3000")(
		NewSessionMiddleware(sessions)(
			rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID, _ := UserIDFromContext(r.Context())
				json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
			}))))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "sess-rate"})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := send(); got != http.StatusOK {
			t.Fatalf("リクエスト%d: status = %d, want 200", i+1, got)
		}
	}
	if got := send(); got != http.StatusTooManyRequests {
		t.Errorf("3回目: status = %d, want 429", got)
	}
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	// 120 req/min = 2 req/sec
	if cfg.GeneralRate != 2.0 {
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.ImportRate == 0 {
		t.Error("ImportRateが0")
	}
	if cfg.ImportBurst != 10 {
		t.Errorf("ImportBurst = %d, want 10", cfg.ImportBurst)
	}
	if cfg.CleanupInterval == 0 {
		t.Error("CleanupIntervalが0")
	}
}
