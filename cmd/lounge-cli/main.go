package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mattn/go-runewidth"

	"secret-lounge/internal/adapters/exporter"
	"secret-lounge/internal/domain"
	"secret-lounge/internal/pkg/config"
	"secret-lounge/internal/server"
)

func main() {
	var (
		serverAddr string
		pageSize   int
		xlsxPath   string
	)
	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "Ops server address")
	flag.IntVar(&pageSize, "page-size", 100, "Members page size")
	flag.StringVar(&xlsxPath, "xlsx", "", "Write the member list to this .xlsx file instead of stdout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := server.NewClient(serverAddr)

	status, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("Не удалось проверить состояние сервиса: %v", err)
	}
	fmt.Printf("Состояние сервиса: %s\n", status)

	members, err := client.AllMembers(ctx, pageSize)
	if err != nil {
		log.Fatalf("Не удалось получить список участников: %v", err)
	}

	participants := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		participants = append(participants, domain.Participant{DisplayName: m.DisplayName, Role: domain.Role(m.Role)})
	}

	if xlsxPath != "" {
		data, err := exporter.NewExcelExporter().Export(participants)
		if err != nil {
			log.Fatalf("Не удалось сформировать файл: %v", err)
		}
		if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
			log.Fatalf("Не удалось записать файл %s: %v", xlsxPath, err)
		}
		fmt.Printf("Участников: %d, сохранено в %s\n", len(participants), xlsxPath)
		return
	}

	fmt.Printf("Участников: %d\n", len(participants))
	for _, p := range participants {
		mark := exporter.MemberMark
		if p.IsModerator() {
			mark = exporter.ModeratorMark
		}
		fmt.Printf("%s %s | %s\n", mark, runewidth.FillRight(p.DisplayName, config.DefaultNameColumnWidth), p.Role)
	}
}
