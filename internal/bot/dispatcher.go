package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ernie/sprintbot/internal/config"
	"github.com/ernie/sprintbot/internal/domain"
	"github.com/ernie/sprintbot/internal/identity"
	"github.com/ernie/sprintbot/internal/sprint"
	"github.com/ernie/sprintbot/internal/storage"
	"github.com/ernie/sprintbot/internal/transport"
	"github.com/google/uuid"
)

// Dispatcher parses inbound messages and routes commands to the sprint
// tracker, the goal subsystem and the reporting queries.
type Dispatcher struct {
	cfg      *config.Config
	store    *storage.Store
	tracker  *sprint.Tracker
	resolver *identity.Resolver
	sender   transport.Sender
	loc      *time.Location
}

// NewDispatcher wires the command surface to its collaborators
func NewDispatcher(cfg *config.Config, store *storage.Store, tracker *sprint.Tracker, resolver *identity.Resolver, sender transport.Sender, loc *time.Location) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		tracker:  tracker,
		resolver: resolver,
		sender:   sender,
		loc:      loc,
	}
}

// HandleMessage processes one inbound message. Panics in a single command
// are caught and logged here; they never take the process down or touch
// other rooms' state.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic handling message in room %s: %v", msg.RoomID, r)
		}
	}()

	senderID := identity.NormalizeID(msg.SenderID)

	banned, err := d.store.IsBlacklisted(ctx, senderID)
	if err != nil {
		log.Printf("Blacklist lookup failed for %s: %v", senderID, err)
	}
	if banned {
		return
	}

	isOwner := d.cfg.IsOwner(senderID)
	if !msg.IsGroup && !isOwner {
		return
	}

	cmd, args, ok := d.parse(msg.Text)
	if !ok {
		return
	}

	participantID, displayName := d.resolver.Resolve(ctx, msg)

	switch cmd {
	case "help":
		d.reply(ctx, msg.RoomID, helpText(d.cfg.Bot.CommandPrefix))
	case "sprint":
		d.cmdSprint(ctx, msg.RoomID, participantID, displayName, args)
	case "wc":
		d.cmdWordCount(ctx, msg.RoomID, participantID, displayName, args)
	case "time":
		d.cmdTime(ctx, msg.RoomID)
	case "finish":
		d.replyErr(ctx, msg.RoomID, d.tracker.Finish(ctx, msg.RoomID))
	case "cancel":
		if _, err := d.tracker.Cancel(ctx, msg.RoomID); err != nil {
			log.Printf("Cancel failed in room %s: %v", msg.RoomID, err)
		}
	case "schedule":
		d.cmdSchedule(ctx, msg.RoomID, participantID, args)
	case "unschedule":
		d.cmdUnschedule(ctx, msg.RoomID)
	case "daily":
		d.cmdWindow(ctx, msg.RoomID, 1)
	case "weekly":
		d.cmdWindow(ctx, msg.RoomID, 7)
	case "monthly":
		d.cmdWindow(ctx, msg.RoomID, 30)
	case "goal":
		d.cmdGoal(ctx, msg.RoomID, participantID, displayName, args)
	case "log":
		d.cmdLog(ctx, msg.RoomID, participantID, displayName, args)
	case "myname":
		d.cmdMyName(ctx, msg.RoomID, participantID, args)
	case "broadcast":
		if isOwner {
			d.cmdBroadcast(ctx, args)
		}
	case "ban":
		if isOwner {
			d.cmdBan(ctx, msg.RoomID, args, true)
		}
	case "unban":
		if isOwner {
			d.cmdBan(ctx, msg.RoomID, args, false)
		}
	case "leave":
		if isOwner {
			d.cmdLeave(ctx, msg.RoomID)
		}
	case "setword", "correct":
		if isOwner {
			d.cmdSetWord(ctx, msg.RoomID, args)
		}
	case "setname":
		if isOwner {
			d.cmdSetName(ctx, msg.RoomID, args)
		}
	default:
		// Unknown commands are ignored, same as non-command chatter
	}
}

// parse splits prefixed command text into a lowercase command token and the
// raw argument remainder. Non-prefixed text is not a command.
func (d *Dispatcher) parse(text string) (cmd, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, d.cfg.Bot.CommandPrefix) {
		return "", "", false
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, d.cfg.Bot.CommandPrefix))
	if text == "" {
		return "", "", false
	}
	if idx := strings.IndexAny(text, " \t"); idx != -1 {
		return strings.ToLower(text[:idx]), strings.TrimSpace(text[idx+1:]), true
	}
	return strings.ToLower(text), "", true
}

func (d *Dispatcher) cmdSprint(ctx context.Context, roomID, participantID, displayName, args string) {
	minutes, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		d.reply(ctx, roomID, fmt.Sprintf("Usage: %ssprint <minutes> (1-180)", d.cfg.Bot.CommandPrefix))
		return
	}
	d.replyErr(ctx, roomID, d.tracker.Start(ctx, roomID, minutes, participantID, displayName))
}

func (d *Dispatcher) cmdWordCount(ctx context.Context, roomID, participantID, displayName, args string) {
	fields := strings.Fields(args)
	mode := domain.LogSet
	numArg := ""
	switch {
	case len(fields) == 1:
		numArg = fields[0]
	case len(fields) == 2 && (strings.EqualFold(fields[0], "add") || fields[0] == "+"):
		mode = domain.LogAdd
		numArg = fields[1]
	default:
		d.reply(ctx, roomID, fmt.Sprintf("Usage: %swc <count> or %swc add <count>", d.cfg.Bot.CommandPrefix, d.cfg.Bot.CommandPrefix))
		return
	}

	amount, err := strconv.Atoi(numArg)
	if err != nil {
		d.reply(ctx, roomID, domain.ErrInvalidAmount.Error())
		return
	}
	d.replyErr(ctx, roomID, d.tracker.LogWords(ctx, roomID, participantID, displayName, amount, mode))
}

func (d *Dispatcher) cmdTime(ctx context.Context, roomID string) {
	remaining, err := d.tracker.Remaining(roomID)
	if err != nil {
		d.replyErr(ctx, roomID, err)
		return
	}
	d.reply(ctx, roomID, FormatRemaining(remaining))
}

func (d *Dispatcher) cmdSchedule(ctx context.Context, roomID, participantID, args string) {
	fields := strings.Fields(args)
	usage := fmt.Sprintf("Usage: %sschedule <minutes> in <delay-minutes>", d.cfg.Bot.CommandPrefix)
	if len(fields) != 3 || !strings.EqualFold(fields[1], "in") {
		d.reply(ctx, roomID, usage)
		return
	}
	minutes, err1 := strconv.Atoi(fields[0])
	delay, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || delay < 1 {
		d.reply(ctx, roomID, usage)
		return
	}
	if minutes < domain.MinSprintMinutes || minutes > domain.MaxSprintMinutes {
		d.reply(ctx, roomID, domain.ErrInvalidDuration.Error())
		return
	}

	sched := &domain.ScheduledSprint{
		ID:              uuid.New().String(),
		RoomID:          roomID,
		StartAt:         time.Now().Add(time.Duration(delay) * time.Minute),
		DurationMinutes: minutes,
		CreatedBy:       participantID,
	}
	if err := d.store.CreateScheduledSprint(ctx, sched); err != nil {
		log.Printf("Failed to schedule sprint for room %s: %v", roomID, err)
		d.reply(ctx, roomID, "Could not schedule the sprint, sorry.")
		return
	}
	d.reply(ctx, roomID, fmt.Sprintf("📅 Scheduled a %d minute sprint in %d minutes.", minutes, delay))
}

func (d *Dispatcher) cmdUnschedule(ctx context.Context, roomID string) {
	n, err := d.store.DeleteScheduledSprintsForRoom(ctx, roomID)
	if err != nil {
		log.Printf("Failed to unschedule sprints for room %s: %v", roomID, err)
		return
	}
	if n == 0 {
		d.reply(ctx, roomID, "Nothing was scheduled.")
		return
	}
	d.reply(ctx, roomID, fmt.Sprintf("🗑️ Removed %d scheduled sprint(s).", n))
}

func (d *Dispatcher) cmdWindow(ctx context.Context, roomID string, days int) {
	since := time.Now().In(d.loc).AddDate(0, 0, -(days - 1)).Format("2006-01-02")
	entries, err := d.store.AggregateWindow(ctx, roomID, since)
	if err != nil {
		log.Printf("Window aggregation failed for room %s: %v", roomID, err)
		return
	}
	d.reply(ctx, roomID, FormatWindow(days, entries))
}

func (d *Dispatcher) cmdGoal(ctx context.Context, roomID, participantID, displayName, args string) {
	fields := strings.Fields(args)
	usage := fmt.Sprintf("Usage: %sgoal set <words> or %sgoal check", d.cfg.Bot.CommandPrefix, d.cfg.Bot.CommandPrefix)
	if len(fields) == 0 {
		d.reply(ctx, roomID, usage)
		return
	}

	switch strings.ToLower(fields[0]) {
	case "set":
		if len(fields) != 2 {
			d.reply(ctx, roomID, usage)
			return
		}
		target, err := strconv.Atoi(fields[1])
		if err != nil || target <= 0 {
			d.reply(ctx, roomID, "Goal target must be a positive number of words.")
			return
		}
		goal, err := d.store.SetGoal(ctx, participantID, displayName, target, time.Now().In(d.loc).Format("2006-01-02"))
		if err != nil {
			log.Printf("Failed to set goal for %s: %v", participantID, err)
			d.reply(ctx, roomID, "Could not save the goal, sorry.")
			return
		}
		d.reply(ctx, roomID, fmt.Sprintf("🎯 Goal set: %d words. Every sprint counts toward it!", goal.Target))
	case "check":
		goal, err := d.store.GetActiveGoal(ctx, participantID)
		if errors.Is(err, sql.ErrNoRows) {
			d.reply(ctx, roomID, fmt.Sprintf("%s has no active goal. Set one with %sgoal set <words>.", displayName, d.cfg.Bot.CommandPrefix))
			return
		}
		if err != nil {
			log.Printf("Goal lookup failed for %s: %v", participantID, err)
			return
		}
		d.reply(ctx, roomID, FormatGoalProgress(goal))
	default:
		d.reply(ctx, roomID, usage)
	}
}

// cmdLog records words outside a sprint: straight into the daily stats and
// the active goal, with the same completion detection as finish.
func (d *Dispatcher) cmdLog(ctx context.Context, roomID, participantID, displayName, args string) {
	amount, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || amount <= 0 {
		d.reply(ctx, roomID, fmt.Sprintf("Usage: %slog <words> (a positive number)", d.cfg.Bot.CommandPrefix))
		return
	}

	date := time.Now().In(d.loc).Format("2006-01-02")
	if err := d.store.UpsertDailyStat(ctx, participantID, roomID, date, displayName, amount); err != nil {
		log.Printf("Failed to log words for %s in room %s: %v", participantID, roomID, err)
	}

	reply := fmt.Sprintf("📝 Logged %d words for %s.", amount, displayName)
	goal, completed, err := sprint.ApplyGoalProgress(ctx, d.store, participantID, amount)
	if err != nil {
		log.Printf("Failed to update goal for %s: %v", participantID, err)
	} else if completed {
		reply += fmt.Sprintf("\n🎉 %s reached their goal of %d words!", displayName, goal.Target)
	}
	d.reply(ctx, roomID, reply)
}

func (d *Dispatcher) cmdMyName(ctx context.Context, roomID, participantID, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		d.reply(ctx, roomID, fmt.Sprintf("Usage: %smyname <display name>", d.cfg.Bot.CommandPrefix))
		return
	}
	if err := d.store.SetNameOverride(ctx, participantID, name); err != nil {
		log.Printf("Failed to set name override for %s: %v", participantID, err)
		d.reply(ctx, roomID, "Could not save the name, sorry.")
		return
	}
	d.reply(ctx, roomID, fmt.Sprintf("👋 Noted — you are now %s.", name))
}

func (d *Dispatcher) cmdBroadcast(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	today := time.Now().In(d.loc).Format("2006-01-02")
	rooms, err := d.store.ActiveRooms(ctx, today)
	if err != nil {
		log.Printf("Failed to list active rooms for broadcast: %v", err)
		return
	}
	for _, roomID := range rooms {
		d.reply(ctx, roomID, "📢 "+text)
	}
	log.Printf("Broadcast sent to %d rooms", len(rooms))
}

func (d *Dispatcher) cmdBan(ctx context.Context, roomID, args string, ban bool) {
	target := identity.NormalizeID(args)
	if target == "" {
		return
	}
	var err error
	if ban {
		err = d.store.Ban(ctx, target)
	} else {
		err = d.store.Unban(ctx, target)
	}
	if err != nil {
		log.Printf("Blacklist update failed for %s: %v", target, err)
		return
	}
	if ban {
		d.reply(ctx, roomID, fmt.Sprintf("🚫 %s is now ignored.", target))
	} else {
		d.reply(ctx, roomID, fmt.Sprintf("✅ %s is welcome again.", target))
	}
}

func (d *Dispatcher) cmdLeave(ctx context.Context, roomID string) {
	// Drop any running sprint quietly; the transport performs the actual leave
	if _, err := d.tracker.Cancel(ctx, roomID); err != nil {
		log.Printf("Cancel before leave failed in room %s: %v", roomID, err)
	}
	d.reply(ctx, roomID, "👋 Leaving this room. Happy writing!")
	log.Printf("Leave requested for room %s", roomID)
}

func (d *Dispatcher) cmdSetWord(ctx context.Context, roomID, args string) {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		d.reply(ctx, roomID, fmt.Sprintf("Usage: %ssetword <name> <count>", d.cfg.Bot.CommandPrefix))
		return
	}
	amount, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		d.reply(ctx, roomID, domain.ErrInvalidAmount.Error())
		return
	}
	target := strings.Join(fields[:len(fields)-1], " ")
	d.replyErr(ctx, roomID, d.tracker.SetParticipantWords(ctx, roomID, target, amount))
}

func (d *Dispatcher) cmdSetName(ctx context.Context, roomID, args string) {
	fields := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(fields) != 2 {
		d.reply(ctx, roomID, fmt.Sprintf("Usage: %ssetname <participant-id> <display name>", d.cfg.Bot.CommandPrefix))
		return
	}
	target := identity.NormalizeID(fields[0])
	name := strings.TrimSpace(fields[1])
	if target == "" || name == "" {
		return
	}
	if err := d.store.SetNameOverride(ctx, target, name); err != nil {
		log.Printf("Failed to set name override for %s: %v", target, err)
		return
	}
	d.reply(ctx, roomID, fmt.Sprintf("✏️ %s is now known as %s.", target, name))
}

// replyErr surfaces typed command failures as short room replies. Anything
// outside the taxonomy is logged instead.
func (d *Dispatcher) replyErr(ctx context.Context, roomID string, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrNoActiveSprint),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrNotFound):
		d.reply(ctx, roomID, err.Error())
	default:
		log.Printf("Command failed in room %s: %v", roomID, err)
	}
}

// reply sends text to the room, logging delivery failures
func (d *Dispatcher) reply(ctx context.Context, roomID, text string) {
	if err := d.sender.SendToRoom(ctx, roomID, text, nil); err != nil {
		log.Printf("Failed to send to room %s: %v", roomID, err)
	}
}
