package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"PluginHost/sdk/go/pluginhost"
)

func main() {
	addr := os.Getenv("PLUGINHOST_URL")
	if addr == "" {
		addr = "http://127.0.0.1:3000"
	}
	client, err := pluginhost.NewClient(addr, nil)
	if err != nil {
		panic(err)
	}
	client.SetToken(os.Getenv("PLUGINHOST_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	states, err := client.Plugins(ctx, "")
	if err != nil {
		panic(err)
	}
	for _, st := range states {
		fmt.Printf("%-10s %-20s %-20s %s\n", st.Pipeline, st.Category, st.Name, st.Status)
	}

	if len(os.Args) == 4 {
		action, category, name := os.Args[1], os.Args[2], os.Args[3]
		run := client.Plugin
		switch action {
		case "start":
			run = client.StartPlugin
		case "stop":
			run = client.StopPlugin
		}
		state, err := run(ctx, category, name)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s.%s is %s\n", state.Category, state.Name, state.Status)
	}
}
