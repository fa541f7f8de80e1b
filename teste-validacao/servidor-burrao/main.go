package main

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Upstream falso do backend agrícola para validar o gateway na mão:
//
//	UPSTREAM_URL=http://localhost:8081 go run ./cmd/gateway
//	curl -i -X POST localhost:8080/api/auth/login -d senha=errada   (401 conta para a política auth)
func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("senha") != "certa" {
			http.Error(w, "credenciais inválidas", http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]string{"token": "fake-token"})
	})

	mux.HandleFunc("/api/farms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]string{{"id": "1", "name": "Fazenda Boa Vista"}})
	})

	mux.HandleFunc("/api/diagnosis/upload", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "received"})
	})

	mux.HandleFunc("/showTela", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<h1>Tela do Sistema</h1><p>Requisição recebida com sucesso!</p>")
	})

	fmt.Println("Servidor rodando em http://localhost:8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
