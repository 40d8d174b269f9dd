package eventexplorer_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

// composeService はdocker-compose.ymlから指定サービスの定義部分を切り出す。
func composeService(t *testing.T, compose, name string) string {
	t.Helper()
	var b strings.Builder
	found := false
	for _, line := range strings.Split(compose, "\n") {
		if !found {
			found = line == "  "+name+":"
			continue
		}
		if line != "" && !strings.HasPrefix(line, "    ") {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if !found {
		t.Fatalf("service %q not found in docker-compose.yml", name)
	}
	return b.String()
}

func TestDockerfile(t *testing.T) {
	content := readFile(t, "Dockerfile")

	var stages []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "FROM ") {
			stages = append(stages, line)
		}
	}
	if len(stages) < 2 || !strings.Contains(stages[0], "golang:") {
		t.Errorf("Goのビルドステージを持つマルチステージビルドであるべき: %v", stages)
	}
	if last := stages[len(stages)-1]; !strings.Contains(last, "distroless") {
		t.Errorf("最終ステージはdistrolessであるべき: %s", last)
	}
	if !strings.Contains(content, "./cmd/eventexplorer") {
		t.Error("./cmd/eventexplorer をビルドするべき")
	}
	if !strings.Contains(content, `ENTRYPOINT ["/eventexplorer"]`) {
		t.Error("ENTRYPOINT は /eventexplorer であるべき")
	}
	// distrolessにはシェルもcurlもない
	if !strings.Contains(content, `CMD ["/eventexplorer", "healthcheck"]`) {
		t.Error("HEALTHCHECK は healthcheck サブコマンドを使うべき")
	}
}

func TestDockerCompose_Commands(t *testing.T) {
	compose := readFile(t, "docker-compose.yml")

	tests := []struct {
		service string
		command string
	}{
		{"migrate", `command: ["migrate"]`},
		{"api", `command: ["serve"]`},
		{"worker", `command: ["worker"]`},
	}
	for _, tt := range tests {
		if svc := composeService(t, compose, tt.service); !strings.Contains(svc, tt.command) {
			t.Errorf("%s should run %s", tt.service, tt.command)
		}
	}
}

func TestDockerCompose_StartOrder(t *testing.T) {
	compose := readFile(t, "docker-compose.yml")

	if !strings.Contains(composeService(t, compose, "migrate"), "condition: service_healthy") {
		t.Error("migrate はDBのヘルスチェック完了を待つべき")
	}
	for _, name := range []string{"api", "worker"} {
		if !strings.Contains(composeService(t, compose, name), "condition: service_completed_successfully") {
			t.Errorf("%s はマイグレーション完了を待つべき", name)
		}
	}
	if !strings.Contains(composeService(t, compose, "api"), "REDIS_URL:") {
		t.Error("api はプロバイダー応答キャッシュにRedisを使うべき")
	}
}

// 外部プロバイダーとフィードに接続するapiとworkerだけが外部ネットワークに参加する。
func TestDockerCompose_Egress(t *testing.T) {
	compose := readFile(t, "docker-compose.yml")

	if !strings.Contains(compose, "internal: true") {
		t.Error("内部専用ネットワーク(internal: true)を定義するべき")
	}
	tests := []struct {
		service  string
		external bool
	}{
		{"db", false},
		{"redis", false},
		{"migrate", false},
		{"api", true},
		{"worker", true},
	}
	for _, tt := range tests {
		got := strings.Contains(composeService(t, compose, tt.service), "- external")
		if got != tt.external {
			t.Errorf("%s external network = %v, want %v", tt.service, got, tt.external)
		}
	}
}
