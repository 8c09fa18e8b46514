package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"rosterchat/internal/adapter/api"
	"rosterchat/internal/adapter/api/handler"
	apimiddleware "rosterchat/internal/adapter/api/middleware"
	"rosterchat/internal/adapter/api/router"
	"rosterchat/internal/adapter/repository"
	"rosterchat/internal/domain/entity"
	domainrepo "rosterchat/internal/domain/repository"
	"rosterchat/internal/domain/service"
	"rosterchat/internal/infrastructure/firebase"
	"rosterchat/internal/infrastructure/ratelimit"
	"rosterchat/internal/infrastructure/storage"
	"rosterchat/internal/infrastructure/websocket"
	"rosterchat/internal/usecase"
	"rosterchat/pkg/config"
	"rosterchat/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type backend struct {
	conversations domainrepo.ConversationRepository
	directory     domainrepo.DirectoryRepository
	objectStore   service.ObjectStore
	verifier      service.TokenVerifier
	issuer        handler.TokenIssuer
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var b *backend
	switch cfg.StoreBackend {
	case config.StoreBackendMemory:
		b = memoryBackend(cfg)
	case config.StoreBackendFirestore:
		b = firestoreBackend(ctx, cfg)
	default:
		log.Fatalf("Unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis at %s is unreachable, lookups will fall through: %v", cfg.RedisAddr, err)
		}
		b.directory = repository.NewCachedDirectoryRepository(b.directory, redisClient, cfg.DirectoryCacheTTL)
	}

	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine(ctx)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	store := usecase.NewConversationStore(b.conversations)
	membershipUseCase := usecase.NewMembershipUseCase(store, b.conversations, b.directory, b.objectStore, rateLimiter)
	messageUseCase := usecase.NewMessageUseCase(store, b.conversations, b.directory, b.objectStore, rateLimiter, cfg.MessageWindow)
	readStateUseCase := usecase.NewReadStateUseCase(store, b.conversations)
	syncEngine := usecase.NewSyncEngine(b.conversations, b.directory, cfg.MessageWindow)

	handler.Setup(store, membershipUseCase, messageUseCase, readStateUseCase, syncEngine, wsManager, cfg.MaxUploadSize)
	handler.SetupHealthHandler(cfg.StoreBackend, redisClient, wsManager)
	if b.issuer != nil {
		handler.SetupDevTokenHandler(b.issuer, b.directory)
	}

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(b.verifier)
	router.Setup(e, authMiddleware, rateLimiter, cfg.Environment)

	go func() {
		log.Printf("Starting server on port %s (store: %s)...", cfg.ServerPort, cfg.StoreBackend)
		if err := e.Start(":" + cfg.ServerPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				// Live subscriptions and websocket clients end with the background context.
				cancel()
				return e.Shutdown(ctx)
			},
			"store": func(ctx context.Context) error {
				b.close()
				if redisClient != nil {
					return redisClient.Close()
				}
				return nil
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func firestoreBackend(ctx context.Context, cfg *config.Config) *backend {
	var opt option.ClientOption
	if cfg.ServiceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opt = option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	} else {
		if _, err := os.Stat(cfg.ServiceAccountPath); err != nil {
			log.Fatalf("Service account file does not exist: %s", cfg.ServiceAccountPath)
		}
		log.Printf("Using Firebase service account from file: %s", cfg.ServiceAccountPath)
		opt = option.WithCredentialsFile(cfg.ServiceAccountPath)
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}

	storageClient, err := storage.NewCloudStorageClient(ctx, cfg.StorageBucket, cfg.FirebaseProject, opt)
	if err != nil {
		log.Fatalf("Failed to initialize Cloud Storage: %v", err)
	}

	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)

	return &backend{
		conversations: repository.NewFirestoreConversationRepository(firestoreClient),
		directory:     repository.NewFirestoreDirectoryRepository(firestoreClient),
		objectStore:   storageClient,
		verifier:      firebaseAuthClient,
		issuer:        firebaseAuthClient,
		close: func() {
			storageClient.Close()
			firestoreClient.Close()
		},
	}
}

// memoryBackend runs the whole service in-process with HS256 development
// tokens. DEV_USERS seeds the directory as "id:email:name" entries separated
// by commas.
func memoryBackend(cfg *config.Config) *backend {
	directory := repository.NewMemoryDirectoryRepository(parseDevUsers(cfg.DevUsers)...)
	issuer := firebase.NewDevTokenIssuer(cfg.JWTSecret, time.Duration(cfg.JWTExpiry)*time.Second)

	return &backend{
		conversations: repository.NewMemoryConversationRepository(),
		directory:     directory,
		objectStore:   storage.NewMemoryObjectStore(),
		verifier:      issuer,
		issuer:        issuer,
		close:         func() {},
	}
}

func parseDevUsers(raw string) []*entity.User {
	var users []*entity.User
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) < 2 || parts[0] == "" {
			continue
		}
		user := &entity.User{ID: parts[0], Email: parts[1]}
		if len(parts) == 3 {
			user.DisplayName = parts[2]
		}
		users = append(users, user)
	}
	return users
}
