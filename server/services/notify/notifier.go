package notify

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/services/queues"
	"github.com/molior-deb/molior/server/store"
)

// Notifier consumes the notification queue: events are broadcast to the
// websocket clients, hook items fire the post build hooks of a build.
type Notifier struct {
	buildStore          store.BuildStore
	repoStore           store.SourceRepositoryStore
	projectVersionStore store.ProjectVersionStore
	hookStore           store.PostBuildHookStore
	hub                 *Hub
	queues              *queues.Queues
	hostname            services.ServerHostname
	httpClient          *retryablehttp.Client
	insecureClient      *retryablehttp.Client
	wg                  sync.WaitGroup
	logger.Log
}

func NewNotifier(
	buildStore store.BuildStore,
	repoStore store.SourceRepositoryStore,
	projectVersionStore store.ProjectVersionStore,
	hookStore store.PostBuildHookStore,
	hub *Hub,
	queues *queues.Queues,
	hostname services.ServerHostname,
	logFactory logger.LogFactory,
) *Notifier {
	log := logFactory("Notifier")
	return &Notifier{
		buildStore:          buildStore,
		repoStore:           repoStore,
		projectVersionStore: projectVersionStore,
		hookStore:           hookStore,
		hub:                 hub,
		queues:              queues,
		hostname:            hostname,
		httpClient:          newHookClient(false, log),
		insecureClient:      newHookClient(true, log),
		Log:                 log,
	}
}

// newHookClient builds the retrying http client hook deliveries go through.
func newHookClient(skipSSL bool, log logger.Log) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.RetryMax = 3
	client.Logger = logger.NewLeveledLogger(log)
	if skipSSL {
		client.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	return client
}

// WebsocketHandler returns the handler that upgrades API websocket
// connections into the hub.
func (n *Notifier) WebsocketHandler() http.Handler {
	return n.hub
}

// Notify broadcasts an event to all websocket subscribers.
func (n *Notifier) Notify(event *models.WebsocketEvent) {
	n.hub.Broadcast(event)
}

// Start consumes the notification queue until it is closed and drained.
func (n *Notifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			notification := n.queues.Notifications.Dequeue()
			if notification == nil {
				n.Infof("Notification queue closed; stopping")
				return
			}
			n.handle(ctx, notification)
		}
	}()
}

// Stop waits for the worker to drain the closed notification queue.
func (n *Notifier) Stop() {
	n.wg.Wait()
}

func (n *Notifier) handle(ctx context.Context, notification *models.Notification) {
	handled := false
	if notification.Event != nil {
		n.hub.Broadcast(notification.Event)
		handled = true
	}
	if notification.HooksBuildID != 0 {
		n.runHooks(ctx, notification.HooksBuildID)
		handled = true
	}
	if !handled {
		n.Errorf("Got empty notification")
	}
}
