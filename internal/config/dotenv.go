package config

import (
	"bufio"
	"os"
	"strings"
)

// LoadDotEnv carrega pares KEY=value de um arquivo .env para o ambiente.
// Variáveis já definidas no ambiente têm precedência e nunca são
// sobrescritas. O parser aceita comentários, linhas em branco e o
// prefixo "export " que sobra de profiles de shell.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err // ausência do arquivo é tratada pelo caller
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		switch {
		case raw == "", strings.HasPrefix(raw, "#"):
			continue
		}
		raw = strings.TrimPrefix(raw, "export ")

		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return sc.Err()
}
