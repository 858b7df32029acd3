// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kadirpekel/mend/pkg/session"
)

// ChatCmd starts an interactive chat session.
type ChatCmd struct {
	User       string `help:"User identifier." default:"anonymous"`
	Department string `help:"User department." default:"general"`
	Role       string `help:"User role." default:"user"`
	Admin      bool   `help:"Start the session in admin mode."`
}

func (c *ChatCmd) Run(ctx context.Context) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	mode := session.ModeUser
	if c.Admin {
		mode = session.ModeAdmin
	}
	s := eng.agent.Sessions().Create(c.User, c.Department, c.Role, mode)

	fmt.Printf("mend chat - session %s\n", s.ID)
	fmt.Printf("User: %s (%s/%s, %s mode)\n", s.UserID, s.Department, s.Role, s.Mode)
	fmt.Println("Type 'help' for commands, 'exit' to leave.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" || line == "bye" {
			break
		}

		resp := eng.agent.Processor().Process(ctx, s.ID, line)
		printResponse(resp)
	}

	fmt.Println("\nGoodbye.")
	return scanner.Err()
}

func printResponse(resp session.Response) {
	if resp.Status == "error" {
		fmt.Printf("error: %s\n\n", resp.Error)
		return
	}

	if resp.Content != "" {
		fmt.Println(resp.Content)
	}
	if len(resp.SourceDocs) > 0 {
		fmt.Printf("   sources: %s\n", strings.Join(resp.SourceDocs, ", "))
	}
	fmt.Printf("   (%dms)\n\n", resp.DurationMS)
}
