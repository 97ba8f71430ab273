package runtimecache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/hack-dance/hackd/internal/model"
)

// composeListEntry is one line of `docker compose ls --format json`.
type composeListEntry struct {
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	ConfigFiles string `json:"ConfigFiles"`
}

// psEntryJSON is one line of `docker ps --format {{json .}}`.
type psEntryJSON struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Labels string `json:"Labels"`
	Ports  string `json:"Ports"`
}

func parseLabels(raw string) map[string]string {
	out := map[string]string{}
	for _, kv := range strings.Split(raw, ",") {
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

func parsePorts(raw string) []model.PortBinding {
	var out []model.PortBinding
	for _, spec := range strings.Split(raw, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		proto := "tcp"
		if idx := strings.LastIndex(spec, "/"); idx >= 0 {
			proto = spec[idx+1:]
			spec = spec[:idx]
		}
		hostPart, containerPart, ok := strings.Cut(spec, "->")
		if !ok {
			continue
		}
		containerPort, _ := strconv.Atoi(containerPart)
		hostIP, hostPortStr, _ := strings.Cut(hostPart, ":")
		hostPort, _ := strconv.Atoi(hostPortStr)
		out = append(out, model.PortBinding{
			HostIP:        hostIP,
			HostPort:      hostPort,
			ContainerPort: containerPort,
			Protocol:      proto,
		})
	}
	return out
}

func runJSONLines(ctx context.Context, name string, args []string, handle func([]byte) error) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := handle(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// DockerComposeEnumerator lists compose projects via `docker compose ls`
// and joins each with its containers via `docker ps`, both read through
// the docker CLI per spec.md section 1 (Compose invocation is out of
// scope plumbing; only the resulting view matters to the runtime cache).
func DockerComposeEnumerator(ctx context.Context) ([]model.RuntimeProject, error) {
	var composeEntries []composeListEntry
	err := runJSONLines(ctx, "docker", []string{"compose", "ls", "--format", "json", "--all"}, func(line []byte) error {
		// `docker compose ls --format json` emits either one JSON array or
		// one object per line depending on version; handle both.
		if line[0] == '[' {
			return json.Unmarshal(line, &composeEntries)
		}
		var entry composeListEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return err
		}
		composeEntries = append(composeEntries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	projects := make(map[string]*model.RuntimeProject, len(composeEntries))
	for _, e := range composeEntries {
		workingDir := ""
		if e.ConfigFiles != "" {
			files := strings.Split(e.ConfigFiles, ",")
			workingDir = dirOf(files[0])
		}
		projects[e.Name] = &model.RuntimeProject{
			ComposeProjectName: e.Name,
			WorkingDir:         workingDir,
			Services:           map[string]model.RuntimeServiceContainers{},
		}
	}

	err = runJSONLines(ctx, "docker", []string{"ps", "--all", "--format", "{{json .}}"}, func(line []byte) error {
		var p psEntryJSON
		if err := json.Unmarshal(line, &p); err != nil {
			return err
		}
		labels := parseLabels(p.Labels)
		projectName := labels["com.docker.compose.project"]
		if projectName == "" {
			return nil
		}
		service := labels["com.docker.compose.service"]
		proj, ok := projects[projectName]
		if !ok {
			proj = &model.RuntimeProject{
				ComposeProjectName: projectName,
				Services:           map[string]model.RuntimeServiceContainers{},
			}
			projects[projectName] = proj
		}
		group := proj.Services[service]
		group.Containers = append(group.Containers, model.RuntimeContainer{
			ID:     p.ID,
			Name:   strings.Split(p.Names, ",")[0],
			State:  p.State,
			Status: p.Status,
			Ports:  parsePorts(p.Ports),
		})
		proj.Services[service] = group
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.RuntimeProject, 0, len(projects))
	for _, p := range projects {
		out = append(out, *p)
	}
	return out, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}
