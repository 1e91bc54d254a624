package bridge

import "net/http"

const fallbackPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Blocked by pagetime</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; background: #f4f4f5; color: #27272a; }
main { text-align: center; max-width: 32rem; }
h1 { font-size: 1.5rem; }
</style>
</head>
<body>
<main>
<h1>This site is on your blacklist</h1>
<p>pagetime redirected this tab here. Edit the blacklist with <code>pagetime blacklist</code> or set a fallback page with <code>pagetime blacklist fallback</code>.</p>
</main>
</body>
</html>
`

func handleFallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(fallbackPage))
}
